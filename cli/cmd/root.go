package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"southwinds.dev/memo"
	"southwinds.dev/memo/audit"
	"southwinds.dev/memo/persist"
)

const (
	envPrefix         = "MEMO"
	envPassword       = "MEMO_PASSWORD"
	envBackupPassword = "MEMO_BACKUP_PASSPHRASE"
)

// One vault per process: the store below is built once in openVault and shared by every command.
var (
	cfgFile     string
	password    string
	startedAt   time.Time
	vaultStore  *memo.VaultStore
	storage     persist.Store
	auditLogger audit.Logger
	log         = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "memo",
	Short: "A local-first encrypted credential vault",
	Long: `memo keeps records, templates and labels encrypted under a key derived from your
password, stores them locally and synchronises them with a remote store.

Every title, field value, template and label is padded and sealed with AES-256-GCM or
ChaCha20-Poly1305. The password never leaves the process.`,
	SilenceUsage:       true,
	PersistentPreRunE:  openVault,
	PersistentPostRunE: closeVault,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.memo.yaml)")
	rootCmd.PersistentFlags().StringP("vault-path", "p", "", "directory holding the local vault")
	rootCmd.PersistentFlags().String("store-type", "", "local storage backend (filesystem, badger, bolt)")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "vault password (or use MEMO_PASSWORD env var)")
	rootCmd.PersistentFlags().String("algorithm", "", "encryption algorithm (AES-GCM, ChaCha20-Poly1305)")
	rootCmd.PersistentFlags().Bool("memory-lock", false, "lock process memory to keep keys out of swap")
	rootCmd.PersistentFlags().String("log-level", "", "operational log level (debug, info, warn, error)")

	bindFlagOrPanic("vault.path", "vault-path")
	bindFlagOrPanic("vault.store_type", "store-type")
	bindFlagOrPanic("vault.algorithm", "algorithm")
	bindFlagOrPanic("vault.memory_lock", "memory-lock")
	bindFlagOrPanic("log.level", "log-level")

	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog, logrus)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".memo")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	} else if os.Getenv("DEBUG") == "true" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	viper.SetDefault("vault.path", filepath.Join(home, ".memo"))
	viper.SetDefault("vault.store_type", string(persist.StoreTypeFileSystem))
	viper.SetDefault("vault.algorithm", memo.AlgorithmAESGCM.String())
	viper.SetDefault("vault.kdf", string(memo.KDFPBKDF2))
	viper.SetDefault("vault.memory_lock", false)
	viper.SetDefault("sync.remote_directory", "memo")

	viper.SetDefault("log.level", "warn")

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", string(audit.FileAuditType))
	viper.SetDefault("audit.log_level", "info")
	viper.SetDefault("audit.options.file_path", "audit.log")
}

// skipsVault lists commands that work without opening the local vault
func skipsVault(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", "__complete", "config", "debug-config":
			return true
		}
	}
	return false
}

func openVault(cmd *cobra.Command, args []string) error {
	if skipsVault(cmd) {
		return nil
	}

	level, err := logrus.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	vaultPath := viper.GetString("vault.path")
	if err = os.MkdirAll(vaultPath, 0700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}
	if viper.GetString("audit.options.file_path") == "audit.log" {
		viper.Set("audit.options.file_path", filepath.Join(vaultPath, "audit.log"))
	}

	algorithm, err := memo.ParseAlgorithm(viper.GetString("vault.algorithm"))
	if err != nil {
		return err
	}

	storage, err = persist.NewStore(persist.StoreConfig{
		Type:   persist.StoreType(viper.GetString("vault.store_type")),
		Config: map[string]interface{}{"base_path": vaultPath},
	})
	if err != nil {
		return fmt.Errorf("failed to open local storage: %w", err)
	}

	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	options := memo.Options{
		Algorithm:        algorithm,
		KDFAlgorithm:     memo.KDFAlgorithm(viper.GetString("vault.kdf")),
		EnableMemoryLock: viper.GetBool("vault.memory_lock"),
		EnvPasswordVar:   envPassword,
		RemoteDirectory:  viper.GetString("sync.remote_directory"),
		UserID:           getCurrentUser(),
		Logger:           log,
	}

	startedAt = time.Now()
	logCommand(cmd, "CLI_COMMAND_STARTED", true, map[string]interface{}{"flags": sanitizeFlags(cmd)})

	vaultStore, err = memo.NewVaultStore(cmd.Context(), options, storage, auditLogger)
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}
	return nil
}

func closeVault(cmd *cobra.Command, args []string) error {
	if auditLogger != nil && !startedAt.IsZero() {
		logCommand(cmd, "CLI_COMMAND_COMPLETED", true, map[string]interface{}{
			"duration_ms": time.Since(startedAt).Milliseconds(),
		})
	}

	var errs []error
	if vaultStore != nil {
		errs = append(errs, vaultStore.Close())
	}
	if storage != nil {
		errs = append(errs, storage.Close())
	}
	if auditLogger != nil {
		errs = append(errs, auditLogger.Close())
	}
	return errors.Join(errs...)
}

func createAuditLogger() (audit.Logger, error) {
	config := &audit.Config{
		Enabled:  viper.GetBool("audit.enabled"),
		VaultID:  viper.GetString("vault.path"),
		Type:     audit.ConfigType(viper.GetString("audit.type")),
		Options:  map[string]interface{}{"file_path": viper.GetString("audit.options.file_path")},
		LogLevel: viper.GetString("audit.log_level"),
	}
	if config.Enabled && config.Type == audit.LogrusAuditType {
		return audit.NewLogrusLogger(config, log)
	}
	return audit.NewLogger(config)
}

// logCommand records a CLI invocation in the audit trail. Failures to log are reported on the
// operational log only.
func logCommand(cmd *cobra.Command, action string, success bool, metadata map[string]interface{}) {
	metadata["command"] = cmd.CommandPath()
	metadata["user_id"] = getCurrentUser()
	metadata["source"] = "cli"
	if err := auditLogger.Log(action, success, metadata); err != nil {
		log.WithError(err).Warn("failed to write audit event")
	}
}

// sanitizeFlags returns the flags set on cmd with secret values masked
func sanitizeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			return
		}
		if isSensitiveFlag(flag.Name) {
			flags[flag.Name] = "[REDACTED]"
		} else {
			flags[flag.Name] = flag.Value.String()
		}
	})
	return flags
}

// isSensitiveFlag reports flags whose values may carry secrets; --field and --set carry record
// values and remote credentials
func isSensitiveFlag(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range []string{"passphrase", "password", "secret", "key", "token", "field", "set"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// unlockVault unlocks the store with the password from the flag, the environment or a prompt
func unlockVault(ctx context.Context) error {
	pw, err := unlockWithPassword(ctx)
	memguard.WipeBytes(pw)
	return err
}

// unlockWithPassword unlocks the store and hands the password back for operations that need it
// again, such as re-keying during sync. The caller wipes it.
func unlockWithPassword(ctx context.Context) ([]byte, error) {
	if !vaultStore.IsInitialized() {
		return nil, fmt.Errorf("no vault found at %s, run 'memo init' first", viper.GetString("vault.path"))
	}

	pw, err := resolvePassword("Password: ")
	if err != nil {
		return nil, err
	}
	if err = vaultStore.Unlock(ctx, pw); err != nil {
		memguard.WipeBytes(pw)
		return nil, err
	}
	return pw, nil
}

// getCurrentUser returns the login name for audit events
func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		log.WithError(err).Debug("could not get current user")
		if envUser := os.Getenv("USER"); envUser != "" {
			return envUser
		}
		return "unknown_user"
	}
	return currentUser.Username
}

var debugConfigCmd = &cobra.Command{
	Use:   "debug-config",
	Short: "Show current configuration values",
	Long:  "Display the configuration read from files, environment variables and defaults.",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Configuration Debug Information")
		fmt.Println("===============================")
		fmt.Println()

		if viper.ConfigFileUsed() != "" {
			fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Println("Config file: none found")
		}

		fmt.Printf("\nEnvironment Variables (%s_* prefix):\n", envPrefix)
		for _, env := range os.Environ() {
			if !strings.HasPrefix(env, envPrefix+"_") {
				continue
			}
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				if isSensitiveConfigKey(parts[0]) {
					fmt.Printf("  %s=***REDACTED***\n", parts[0])
				} else {
					fmt.Printf("  %s=%s\n", parts[0], parts[1])
				}
			}
		}

		fmt.Println("\nCurrent Configuration:")
		fmt.Printf("  Store Type: %s\n", viper.GetString("vault.store_type"))
		fmt.Printf("  Vault Path: %s\n", viper.GetString("vault.path"))
		fmt.Printf("  Algorithm:  %s\n", viper.GetString("vault.algorithm"))
		fmt.Printf("  KDF:        %s\n", viper.GetString("vault.kdf"))
		fmt.Printf("  Password:   %s\n", setOrNot(password != "" || os.Getenv(envPassword) != ""))

		fmt.Println("\nAudit Configuration:")
		fmt.Printf("  Enabled:   %v\n", viper.GetBool("audit.enabled"))
		fmt.Printf("  Type:      %s\n", viper.GetString("audit.type"))
		fmt.Printf("  File Path: %s\n", viper.GetString("audit.options.file_path"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(debugConfigCmd)
}

func setOrNot(set bool) string {
	if set {
		return "***SET***"
	}
	return "***NOT SET***"
}

func formatError(err error) string {
	switch {
	case errors.Is(err, memo.ErrInvalidMasterKey):
		return "Error: incorrect password"
	case errors.Is(err, memo.ErrVaultLocked):
		return "Error: vault is locked"
	}

	message := err.Error()
	if len(message) > 0 {
		first := string(message[0])
		if first != strings.ToUpper(first) {
			message = strings.ToUpper(first) + message[1:]
		}
	}
	return fmt.Sprintf("Error: %s", message)
}
