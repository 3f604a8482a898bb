package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"southwinds.dev/memo"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	Long:  "Display information about the vault including key derivation, memory protection and sync state.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("Vault Status")
	fmt.Println("============")

	fmt.Printf("Vault Path: %s (%s)\n", viper.GetString("vault.path"), storage.GetType())
	fmt.Printf("Memory Protection: %s\n", vaultStore.MemoryProtection())

	if !vaultStore.IsInitialized() {
		fmt.Println("Initialized: no (run 'memo init')")
		return nil
	}
	fmt.Println("Initialized: yes")

	kdf := vaultStore.KDFConfig()
	fmt.Printf("Key Derivation: %s (%s)\n", kdf.Algorithm, describeKDF(kdf))

	snapshot := vaultStore.Snapshot()
	live, deleted, localOnly := 0, 0, 0
	for _, record := range snapshot.Records {
		if record.Deleted {
			deleted++
		} else {
			live++
		}
		if record.LocalOnly {
			localOnly++
		}
	}
	fmt.Printf("Records: %d (Deleted: %d, Local only: %d)\n", live, deleted, localOnly)
	fmt.Printf("Templates: %d\n", len(snapshot.Templates))
	fmt.Printf("Labels: %d\n", len(snapshot.Labels))

	history := vaultStore.History()
	if len(history) == 0 {
		fmt.Println("Sync History: never synchronised")
	} else {
		fmt.Printf("Sync History: %d entries (last %s)\n", len(history), history[len(history)-1])
	}
	return nil
}

func describeKDF(cfg memo.KDFConfig) string {
	p := cfg.Params
	switch cfg.Algorithm {
	case memo.KDFArgon2id:
		return fmt.Sprintf("iterations=%d memory=%dKiB parallelism=%d", p.Iterations, p.Memory, p.Parallelism)
	default:
		return fmt.Sprintf("iterations=%d hash=%s", p.Iterations, p.Hash)
	}
}
