package cmd

import (
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"southwinds.dev/memo"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new vault",
	Long: `Create a new, empty vault protected by a password.

The password is read from --password, MEMO_PASSWORD or prompted for twice.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete the local vault",
	Long:  "Remove the local vault and profile. Remote copies are not touched.",
	Args:  cobra.NoArgs,
	RunE:  runWipe,
}

var (
	initKDF string
	wipeYes bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(wipeCmd)

	initCmd.Flags().StringVar(&initKDF, "kdf", "", "key derivation function (PBKDF2, Argon2id); defaults to vault.kdf")
	wipeCmd.Flags().BoolVarP(&wipeYes, "yes", "y", false, "do not ask for confirmation")
}

func runInit(cmd *cobra.Command, args []string) error {
	if vaultStore.IsInitialized() {
		return fmt.Errorf("a vault already exists at %s", viper.GetString("vault.path"))
	}

	pw := []byte(password)
	if len(pw) == 0 {
		pw = memo.Options{EnvPasswordVar: envPassword}.PasswordFromEnv()
	}
	if len(pw) == 0 {
		var err error
		if pw, err = promptNewSecret("Password: "); err != nil {
			return err
		}
	}
	defer memguard.WipeBytes(pw)

	if err := vaultStore.Initialize(cmd.Context(), pw, memo.KDFAlgorithm(initKDF)); err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	kdf := vaultStore.KDFConfig()
	fmt.Printf("Vault created at %s\n", viper.GetString("vault.path"))
	fmt.Printf("Key Derivation: %s (%s)\n", kdf.Algorithm, describeKDF(kdf))
	return nil
}

func runWipe(cmd *cobra.Command, args []string) error {
	if !wipeYes && !promptConfirmation(fmt.Sprintf("Delete the vault at %s? This cannot be undone", viper.GetString("vault.path"))) {
		fmt.Println("Wipe cancelled")
		return nil
	}
	if err := vaultStore.Wipe(cmd.Context()); err != nil {
		return fmt.Errorf("failed to wipe vault: %w", err)
	}
	fmt.Println("Vault wiped")
	return nil
}
