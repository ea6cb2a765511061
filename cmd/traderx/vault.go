package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trader-x-ai/internal/vault"
)

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted credentials file",
	}
	cmd.AddCommand(vaultSealCmd())
	return cmd
}

func vaultSealCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt KRAKEN_API_KEY and KRAKEN_API_SECRET into a vault file",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := vault.Credentials{
				APIKey:    os.Getenv(vault.EnvAPIKey),
				APISecret: os.Getenv(vault.EnvAPISecret),
			}
			if creds.Empty() {
				return fmt.Errorf("%s and %s must be set: %w", vault.EnvAPIKey, vault.EnvAPISecret, vault.ErrNoCredentials)
			}
			pass := os.Getenv(vault.EnvPassphrase)
			if pass == "" {
				return errors.New(vault.EnvPassphrase + " must be set")
			}
			if out == "" {
				out = os.Getenv(vault.EnvVaultFile)
			}
			if out == "" {
				return fmt.Errorf("output path required (--out or %s)", vault.EnvVaultFile)
			}
			if err := vault.WriteFile(out, pass, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Vault written: %s (%s)\n", out, creds)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "vault file to write")
	return cmd
}
