package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var noDescriptions bool

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Print a shell completion script for memo",
	Long: `Print a completion script for bash, zsh, fish or powershell to stdout.

Completion runs without opening the vault, so it never asks for a password.

  source <(memo completion bash)
  memo completion zsh > "${fpath[1]}/_memo"
  memo completion fish > ~/.config/fish/completions/memo.fish
  memo completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             completionShells,
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeCompletion(cmd.Root(), cmd.OutOrStdout(), args[0], !noDescriptions)
	},
}

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

func init() {
	completionCmd.Flags().BoolVar(&noDescriptions, "no-descriptions", false, "omit command descriptions from completions")
	rootCmd.AddCommand(completionCmd)
}

// writeCompletion renders the completion script of root for shell into w
func writeCompletion(root *cobra.Command, w io.Writer, shell string, descriptions bool) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, descriptions)
	case "zsh":
		if descriptions {
			return root.GenZshCompletion(w)
		}
		return root.GenZshCompletionNoDesc(w)
	case "fish":
		return root.GenFishCompletion(w, descriptions)
	case "powershell":
		if descriptions {
			return root.GenPowerShellCompletionWithDesc(w)
		}
		return root.GenPowerShellCompletion(w)
	default:
		return fmt.Errorf("unsupported shell %q, expected one of %v", shell, completionShells)
	}
}
