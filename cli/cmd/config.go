package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage memo configuration",
	Long:  `Manage memo configuration including viewing, setting, and validating settings.`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the current configuration from all sources (config file, environment variables, flags).`,
	RunE:  runConfigView,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  `Set a configuration value in the config file. The key uses dot notation (e.g., vault.store_type).`,
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new configuration file",
	Long:  `Create a new configuration file with default values.`,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration keys",
	RunE:  runConfigList,
}

var (
	configForce  bool
	configFormat string
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configListCmd)

	configViewCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "output format (yaml, json, table)")
	configSetCmd.Flags().BoolVar(&configForce, "force", false, "set value even if the key is unknown")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing config file")
}

func runConfigView(cmd *cobra.Command, args []string) error {
	switch configFormat {
	case "json":
		return printConfigJSON()
	case "yaml":
		return printConfigYAML()
	case "table":
		return printConfigTable()
	default:
		return fmt.Errorf("unsupported format: %s", configFormat)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], convertValue(args[1])

	if !configForce && !isValidConfigKey(key) {
		return fmt.Errorf("unknown configuration key: %s (use --force to override)", key)
	}
	if err := validateConfigValue(key, value); err != nil {
		return err
	}

	viper.Set(key, value)

	configFile := getConfigFilePath()
	if err := ensureConfigDir(configFile); err != nil {
		return fmt.Errorf("failed to ensure config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Set %s = %v\n", key, value)
	fmt.Printf("Configuration saved to: %s\n", configFile)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !viper.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	value := viper.Get(key)
	if isSensitiveConfigKey(key) {
		value = "[REDACTED]"
	}
	fmt.Printf("%s = %v\n", key, value)

	if configFile := viper.ConfigFileUsed(); configFile != "" {
		fmt.Printf("Source: %s\n", configFile)
	} else {
		fmt.Println("Source: defaults/environment/flags")
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil && !configForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configFile)
	}

	if err := ensureConfigDir(configFile); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(getConfigTemplate())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = os.WriteFile(configFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Configuration file created: %s\n", configFile)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	errs := validateConfiguration()
	if len(errs) == 0 {
		fmt.Println("✓ Configuration is valid")
		return nil
	}

	fmt.Println("✗ Configuration validation failed:")
	for _, err := range errs {
		fmt.Printf("  - %s\n", err)
	}
	return fmt.Errorf("configuration validation failed with %d errors", len(errs))
}

func runConfigList(cmd *cobra.Command, args []string) error {
	keys := getConfigKeyDescriptions()
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		fmt.Printf("%-25s %s\n", k, keys[k])
	}
	return nil
}
