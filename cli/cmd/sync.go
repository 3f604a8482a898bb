package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"southwinds.dev/memo"
	"southwinds.dev/memo/persist"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronise the vault with a remote store",
	Long: `Synchronise the local vault with a copy kept in an S3 compatible object store or a
shared directory. The remote configuration is stored encrypted in the local profile.

Records marked local-only are never uploaded.`,
}

var syncConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set the remote store",
	Long: `Set the remote store used for synchronisation.

Examples:
  memo sync configure --type s3 --set endpoint=play.min.io --set bucket=memo \
      --set access_key_id=... --set secret_access_key=... --set use_ssl=true
  memo sync configure --type filesystem --set base_path=/mnt/share/memo
  memo sync configure --clear`,
	Args: cobra.NoArgs,
	RunE: runSyncConfigure,
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the local vault, merging with the remote copy when needed",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download the remote vault and merge it into the local one",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Pull then push",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var syncTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the connection to the configured remote store",
	Args:  cobra.NoArgs,
	RunE:  runSyncTest,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync configuration and history",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

var (
	syncType     string
	syncSettings []string
	syncClear    bool
	syncSkipTest bool
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.AddCommand(syncConfigureCmd)
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncTestCmd)
	syncCmd.AddCommand(syncStatusCmd)

	syncConfigureCmd.Flags().StringVar(&syncType, "type", "", "remote store type (s3, filesystem)")
	syncConfigureCmd.Flags().StringArrayVar(&syncSettings, "set", nil, "remote store setting as key=value (repeatable)")
	syncConfigureCmd.Flags().BoolVar(&syncClear, "clear", false, "remove the sync configuration")
	syncConfigureCmd.Flags().BoolVar(&syncSkipTest, "skip-test", false, "save without testing the connection")
}

func runSyncConfigure(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := unlockVault(ctx); err != nil {
		return err
	}

	if syncClear {
		if err := vaultStore.SetSyncConfig(ctx, nil); err != nil {
			return fmt.Errorf("failed to clear sync configuration: %w", err)
		}
		fmt.Println("Sync configuration removed")
		return nil
	}

	cfg := persist.BlobStoreConfig{
		Type:   persist.StoreType(syncType),
		Config: make(map[string]interface{}, len(syncSettings)),
	}
	for _, setting := range syncSettings {
		key, value, ok := strings.Cut(setting, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid setting %q, expected key=value", setting)
		}
		cfg.Config[key] = convertValue(value)
	}

	if !syncSkipTest {
		remote, err := persist.NewBlobStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("%w: %w", memo.ErrRemoteConnectionFailure, err)
		}
		coordinator, err := memo.NewSyncCoordinator(vaultStore, remote)
		if err != nil {
			return err
		}
		if !coordinator.TestConnection(ctx, cfg) {
			return fmt.Errorf("%w: remote store did not answer (use --skip-test to save anyway)", memo.ErrRemoteConnectionFailure)
		}
	}

	if err := vaultStore.SetSyncConfig(ctx, &cfg); err != nil {
		return fmt.Errorf("failed to save sync configuration: %w", err)
	}
	fmt.Printf("Sync configured with %s remote store\n", cfg.Type)
	return nil
}

// runSync serves push, pull and run. A pulled vault is applied before returning.
func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pw, err := unlockWithPassword(ctx)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(pw)

	coordinator, err := memo.NewSyncCoordinatorFromProfile(ctx, vaultStore)
	if err != nil {
		if errors.Is(err, memo.ErrSyncNotConfigured) {
			return fmt.Errorf("%w, run 'memo sync configure' first", err)
		}
		return err
	}

	var result memo.SyncResult
	switch cmd.Name() {
	case "push":
		result = coordinator.Push(ctx, pw)
	case "pull":
		result = coordinator.Pull(ctx, pw)
		if result.Success && result.VaultUpdated {
			if err = vaultStore.ReplaceVault(ctx, result.Vault); err != nil {
				return fmt.Errorf("failed to apply pulled vault: %w", err)
			}
		}
	default:
		result = coordinator.Sync(ctx, pw)
	}

	if !result.Success {
		return fmt.Errorf("sync failed: %w", result.Error)
	}
	printSyncResult(result)
	return nil
}

func printSyncResult(result memo.SyncResult) {
	fmt.Println("Sync completed")
	fmt.Printf("  Uploaded: %v\n", result.Uploaded)
	fmt.Printf("  Local vault updated: %v\n", result.VaultUpdated)
	fmt.Printf("  Records added: %d\n", result.RecordsAdded)
	fmt.Printf("  Conflicts resolved: %d\n", result.ConflictsResolved)
	fmt.Printf("  History length: %d\n", len(result.History))
}

func runSyncTest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := unlockVault(ctx); err != nil {
		return err
	}

	cfg, err := vaultStore.GetSyncConfig()
	if err != nil {
		return err
	}
	coordinator, err := memo.NewSyncCoordinatorFromProfile(ctx, vaultStore)
	if err != nil {
		return err
	}
	if !coordinator.TestConnection(ctx, *cfg) {
		return fmt.Errorf("%w: %s remote store did not answer", memo.ErrRemoteConnectionFailure, cfg.Type)
	}
	fmt.Printf("✓ %s remote store is reachable\n", cfg.Type)
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}

	cfg, err := vaultStore.GetSyncConfig()
	switch {
	case errors.Is(err, memo.ErrSyncNotConfigured):
		fmt.Println("Remote: not configured")
	case err != nil:
		return err
	default:
		fmt.Printf("Remote: %s\n", cfg.Type)
		keys := make([]string, 0, len(cfg.Config))
		for k := range cfg.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			value := cfg.Config[k]
			if isSensitiveConfigKey(k) {
				value = "[REDACTED]"
			}
			fmt.Printf("  %s: %v\n", k, value)
		}
	}

	history := vaultStore.History()
	fmt.Printf("History: %d entries\n", len(history))
	if len(history) > 0 {
		fmt.Printf("Last version: %s\n", history[len(history)-1])
	}
	return nil
}
