package cmd

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"southwinds.dev/memo"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export and import vault backups",
	Long: `Write the vault to a passphrase protected backup file, or restore it from one.

Record content inside a backup stays encrypted with the vault password in use at export time,
so restoring needs both the backup passphrase and that password.`,
}

var exportBackupCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the vault to a backup file",
	Args:  cobra.ExactArgs(1),
	RunE:  exportBackup,
}

var importBackupCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace the vault with the contents of a backup file",
	Args:  cobra.ExactArgs(1),
	RunE:  importBackup,
}

var backupInfoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Show backup metadata without decrypting it",
	Args:  cobra.ExactArgs(1),
	RunE:  showBackupInfo,
}

var (
	backupPassphrase string
	backupYes        bool
)

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.AddCommand(exportBackupCmd)
	backupCmd.AddCommand(importBackupCmd)
	backupCmd.AddCommand(backupInfoCmd)

	exportBackupCmd.Flags().StringVar(&backupPassphrase, "backup-passphrase", "", "passphrase for backup encryption (or use MEMO_BACKUP_PASSPHRASE env var)")
	importBackupCmd.Flags().StringVar(&backupPassphrase, "backup-passphrase", "", "passphrase for backup decryption (or use MEMO_BACKUP_PASSPHRASE env var)")
	importBackupCmd.Flags().BoolVarP(&backupYes, "yes", "y", false, "do not ask for confirmation")
}

// resolveBackupPassphrase reads the passphrase from the flag, the environment or a prompt
func resolveBackupPassphrase(confirm bool) ([]byte, error) {
	if backupPassphrase != "" {
		return []byte(backupPassphrase), nil
	}
	if env := os.Getenv(envBackupPassword); env != "" {
		return []byte(env), nil
	}
	if confirm {
		return promptNewSecret("Backup passphrase: ")
	}
	return promptSecret("Backup passphrase: ")
}

func exportBackup(cmd *cobra.Command, args []string) error {
	destination := args[0]
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}

	passphrase, err := resolveBackupPassphrase(true)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(passphrase)

	data, err := vaultStore.ExportBackup(cmd.Context(), passphrase)
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	if err = os.WriteFile(destination, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}

	info, err := memo.ReadBackupInfo(data)
	if err != nil {
		return err
	}
	fmt.Printf("Backup written to: %s\n", destination)
	fmt.Printf("Backup ID: %s (%d bytes)\n", info.BackupID, len(data))
	return nil
}

func importBackup(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	info, err := memo.ReadBackupInfo(data)
	if err != nil {
		return fmt.Errorf("invalid backup: %w", err)
	}
	fmt.Printf("Restoring backup %s from %s\n", info.BackupID, info.BackupTimestamp.Local().Format(timeLayout))

	if vaultStore.IsInitialized() && !backupYes {
		fmt.Println("WARNING: This will overwrite the existing vault.")
		if !promptConfirmation("Continue?") {
			fmt.Println("Restore cancelled")
			return nil
		}
	}

	passphrase, err := resolveBackupPassphrase(false)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(passphrase)

	if err = vaultStore.ImportBackup(cmd.Context(), data, passphrase); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	fmt.Println("Backup restored successfully")
	fmt.Println("Unlock with the vault password that was in use when the backup was made.")
	return nil
}

func showBackupInfo(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	info, err := memo.ReadBackupInfo(data)
	if err != nil {
		return fmt.Errorf("invalid backup: %w", err)
	}

	fmt.Printf("Backup ID: %s\n", info.BackupID)
	fmt.Printf("Created: %s\n", info.BackupTimestamp.Local().Format(timeLayout))
	fmt.Printf("Version: %s\n", info.BackupVersion)
	fmt.Printf("Encryption: %s\n", info.EncryptionMethod)
	fmt.Printf("Encrypted Size: %d bytes\n", info.Size)
	return nil
}
