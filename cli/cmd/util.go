package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/awnumar/memguard"
	"github.com/howeyc/gopass"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"southwinds.dev/memo"
	"southwinds.dev/memo/audit"
	"southwinds.dev/memo/persist"
)

func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memo.yaml")
}

func ensureConfigDir(configFile string) error {
	return os.MkdirAll(filepath.Dir(configFile), 0700)
}

// getConfigKeyDescriptions lists every key the CLI reads
func getConfigKeyDescriptions() map[string]string {
	return map[string]string{
		"vault.path":              "Directory holding the local vault",
		"vault.store_type":        "Local storage backend (filesystem, badger, bolt)",
		"vault.algorithm":         "Encryption algorithm (AES-GCM, ChaCha20-Poly1305)",
		"vault.kdf":               "Key derivation function for new vaults (PBKDF2, Argon2id)",
		"vault.memory_lock":       "Lock process memory to keep keys out of swap",
		"sync.remote_directory":   "Directory on the remote store that holds vault.json",
		"log.level":               "Operational log level (debug, info, warn, error)",
		"audit.enabled":           "Enable audit logging",
		"audit.type":              "Audit logger type (file, syslog, logrus)",
		"audit.log_level":         "Minimum level for audit events",
		"audit.options.file_path": "Audit log file path",
	}
}

func isValidConfigKey(key string) bool {
	_, ok := getConfigKeyDescriptions()[key]
	return ok
}

func getConfigTemplate() map[string]interface{} {
	home, _ := os.UserHomeDir()
	return map[string]interface{}{
		"vault": map[string]interface{}{
			"path":        filepath.Join(home, ".memo"),
			"store_type":  string(persist.StoreTypeFileSystem),
			"algorithm":   memo.AlgorithmAESGCM.String(),
			"kdf":         string(memo.KDFPBKDF2),
			"memory_lock": false,
		},
		"sync": map[string]interface{}{
			"remote_directory": "memo",
		},
		"audit": map[string]interface{}{
			"enabled": false,
			"type":    string(audit.FileAuditType),
			"options": map[string]interface{}{
				"file_path": "audit.log",
			},
		},
	}
}

// validateConfigValue checks a single value before it is written
func validateConfigValue(key string, value interface{}) error {
	str := fmt.Sprint(value)
	switch key {
	case "vault.store_type":
		valid := []string{string(persist.StoreTypeFileSystem), string(persist.StoreTypeBadger), string(persist.StoreTypeBolt)}
		if !contains(valid, str) {
			return fmt.Errorf("invalid store type: %s (valid: %s)", str, strings.Join(valid, ", "))
		}
	case "vault.algorithm":
		if _, err := memo.ParseAlgorithm(str); err != nil {
			return err
		}
	case "vault.kdf":
		valid := []string{string(memo.KDFPBKDF2), string(memo.KDFArgon2id)}
		if !contains(valid, str) {
			return fmt.Errorf("invalid KDF: %s (valid: %s)", str, strings.Join(valid, ", "))
		}
	case "audit.type":
		valid := []string{string(audit.FileAuditType), string(audit.SyslogAuditType), string(audit.LogrusAuditType)}
		if !contains(valid, str) {
			return fmt.Errorf("invalid audit type: %s (valid: %s)", str, strings.Join(valid, ", "))
		}
	}
	return nil
}

func validateConfiguration() []string {
	var errs []string
	for key := range getConfigKeyDescriptions() {
		if !viper.IsSet(key) {
			continue
		}
		if err := validateConfigValue(key, viper.Get(key)); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if viper.GetBool("audit.enabled") && viper.GetString("audit.type") == string(audit.FileAuditType) &&
		viper.GetString("audit.options.file_path") == "" {
		errs = append(errs, "audit file path is required when using file audit")
	}
	sort.Strings(errs)
	return errs
}

// convertValue attempts to convert a string value to its most appropriate type
func convertValue(value string) interface{} {
	switch strings.ToLower(value) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if intVal, err := strconv.Atoi(value); err == nil {
		return intVal
	}
	return value
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// printConfigTable prints configuration in table format
func printConfigTable() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "KEY\tVALUE\tSOURCE")
	fmt.Fprintln(w, "---\t-----\t------")

	var keys []string
	flattenKeys(viper.AllSettings(), "", &keys)
	sort.Strings(keys)

	for _, key := range keys {
		value := viper.Get(key)
		source := "default"
		if viper.ConfigFileUsed() != "" {
			source = filepath.Base(viper.ConfigFileUsed())
		}
		if os.Getenv(envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))) != "" {
			source = "environment"
		}
		if isSensitiveConfigKey(key) {
			value = "[REDACTED]"
		}
		fmt.Fprintf(w, "%s\t%v\t%s\n", key, value, source)
	}
	return nil
}

func printConfigJSON() error {
	config := viper.AllSettings()
	maskSensitiveValues(config)

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printConfigYAML() error {
	config := viper.AllSettings()
	maskSensitiveValues(config)

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

// flattenKeys recursively flattens nested maps into dot-notation keys
func flattenKeys(m map[string]interface{}, prefix string, keys *[]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flattenKeys(nested, key, keys)
		} else {
			*keys = append(*keys, key)
		}
	}
}

func isSensitiveConfigKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, sensitive := range []string{"passphrase", "password", "secret", "token", "access_key"} {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	return false
}

func maskSensitiveValues(config map[string]interface{}) {
	for key, value := range config {
		if isSensitiveConfigKey(key) {
			config[key] = "[REDACTED]"
		} else if nested, ok := value.(map[string]interface{}); ok {
			maskSensitiveValues(nested)
		}
	}
}

// resolvePassword returns the password from --password, MEMO_PASSWORD or an interactive prompt.
// The caller wipes the returned slice.
func resolvePassword(prompt string) ([]byte, error) {
	if password != "" {
		return []byte(password), nil
	}
	if env := os.Getenv(envPassword); env != "" {
		return []byte(env), nil
	}
	return promptSecret(prompt)
}

// promptSecret reads a line from the terminal without echo
func promptSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := gopass.GetPasswd()
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", strings.ToLower(strings.TrimSuffix(strings.TrimSpace(prompt), ":")), err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	return secret, nil
}

// promptNewSecret asks twice and fails when the entries differ
func promptNewSecret(prompt string) ([]byte, error) {
	first, err := promptSecret(prompt)
	if err != nil {
		return nil, err
	}
	second, err := promptSecret("Confirm " + strings.ToLower(prompt[:1]) + prompt[1:])
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(second)
	if string(first) != string(second) {
		memguard.WipeBytes(first)
		return nil, fmt.Errorf("entries do not match")
	}
	return first, nil
}

// promptConfirmation prompts the user for yes/no confirmation
func promptConfirmation(message string) bool {
	fmt.Printf("%s (y/N): ", message)
	var response string
	fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

const timeLayout = "2006-01-02 15:04:05"
