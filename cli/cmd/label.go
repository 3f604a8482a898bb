package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Manage labels",
}

var addLabelCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Create a label",
	Args:  cobra.ExactArgs(1),
	RunE:  addLabel,
}

var listLabelsCmd = &cobra.Command{
	Use:   "list",
	Short: "List labels",
	Args:  cobra.NoArgs,
	RunE:  listLabels,
}

var renameLabelCmd = &cobra.Command{
	Use:   "rename [label-id] [name]",
	Short: "Rename a label",
	Args:  cobra.ExactArgs(2),
	RunE:  renameLabel,
}

var deleteLabelCmd = &cobra.Command{
	Use:   "delete [label-id]",
	Short: "Delete a label and detach it from every record",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteLabel,
}

func init() {
	rootCmd.AddCommand(labelCmd)

	labelCmd.AddCommand(addLabelCmd)
	labelCmd.AddCommand(listLabelsCmd)
	labelCmd.AddCommand(renameLabelCmd)
	labelCmd.AddCommand(deleteLabelCmd)

	listLabelsCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
}

func addLabel(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}
	id, err := vaultStore.CreateLabel(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to create label: %w", err)
	}
	fmt.Printf("Label '%s' created\n", id)
	return nil
}

func listLabels(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}

	labels, err := vaultStore.GetLabelList()
	if err != nil {
		return fmt.Errorf("failed to list labels: %w", err)
	}
	if outputJSON {
		return printJSON(labels)
	}
	if len(labels) == 0 {
		fmt.Println("No labels found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tNAME")
	for _, l := range labels {
		fmt.Fprintf(w, "%s\t%s\n", l.ID, l.Name)
	}
	return nil
}

func renameLabel(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}
	if err := vaultStore.UpdateLabel(cmd.Context(), args[0], args[1]); err != nil {
		return fmt.Errorf("failed to rename label: %w", err)
	}
	fmt.Printf("Label '%s' renamed to %s\n", args[0], args[1])
	return nil
}

func deleteLabel(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}
	if err := vaultStore.DeleteLabel(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete label: %w", err)
	}
	fmt.Printf("Label '%s' deleted\n", args[0])
	return nil
}
