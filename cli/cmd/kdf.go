package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"southwinds.dev/memo"
)

var kdfCmd = &cobra.Command{
	Use:   "kdf",
	Short: "Inspect and change key derivation",
	Long:  "Show the key derivation configuration of the vault or re-key the vault under new parameters.",
}

var kdfShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current key derivation configuration",
	Args:  cobra.NoArgs,
	RunE:  runKDFShow,
}

var kdfRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encrypt the vault under new key derivation parameters",
	Long: `Derive a new master key with a fresh salt and re-encrypt every record, template and label.

Parameters that are not given take the defaults of the chosen algorithm. When the result is
compatible with the current configuration nothing is changed.`,
	Args: cobra.NoArgs,
	RunE: runKDFRotate,
}

var (
	kdfAlgorithm   string
	kdfIterations  int
	kdfMemory      uint32
	kdfParallelism uint8
)

func init() {
	rootCmd.AddCommand(kdfCmd)

	kdfCmd.AddCommand(kdfShowCmd)
	kdfCmd.AddCommand(kdfRotateCmd)

	kdfShowCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	kdfRotateCmd.Flags().StringVar(&kdfAlgorithm, "kdf", "", "key derivation function (PBKDF2, Argon2id); defaults to the current one")
	kdfRotateCmd.Flags().IntVar(&kdfIterations, "iterations", 0, "iterations (PBKDF2) or passes (Argon2id)")
	kdfRotateCmd.Flags().Uint32Var(&kdfMemory, "memory", 0, "Argon2id memory in KiB")
	kdfRotateCmd.Flags().Uint8Var(&kdfParallelism, "parallelism", 0, "Argon2id parallelism")
}

func runKDFShow(cmd *cobra.Command, args []string) error {
	if !vaultStore.IsInitialized() {
		return fmt.Errorf("no vault found, run 'memo init' first")
	}

	cfg := vaultStore.KDFConfig()
	if outputJSON {
		return printJSON(cfg)
	}

	fmt.Printf("Algorithm: %s\n", cfg.Algorithm)
	fmt.Printf("Parameters: %s\n", describeKDF(cfg))
	fmt.Printf("Key Length: %d bits\n", cfg.Params.KeyLength)
	fmt.Printf("Salt: %s\n", base64.StdEncoding.EncodeToString(cfg.Params.Salt))
	return nil
}

func runKDFRotate(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}

	alg := memo.KDFAlgorithm(kdfAlgorithm)
	if alg == "" {
		alg = vaultStore.KDFConfig().Algorithm
	}
	cfg, err := vaultStore.KeyDerivation().CreateDefaultConfig(alg)
	if err != nil {
		return err
	}
	if kdfIterations > 0 {
		cfg.Params.Iterations = kdfIterations
	}
	if alg == memo.KDFArgon2id {
		if kdfMemory > 0 {
			cfg.Params.Memory = kdfMemory
		}
		if kdfParallelism > 0 {
			cfg.Params.Parallelism = kdfParallelism
		}
	}

	pw, err := resolvePassword("Current password: ")
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(pw)

	rotated, err := vaultStore.UpdateKDFConfig(cmd.Context(), cfg, pw)
	if err != nil {
		return fmt.Errorf("failed to rotate key derivation: %w", err)
	}
	if !rotated {
		fmt.Println("Configuration unchanged, nothing to do")
		return nil
	}

	fmt.Printf("Vault re-keyed with %s (%s)\n", cfg.Algorithm, describeKDF(cfg))
	return nil
}
