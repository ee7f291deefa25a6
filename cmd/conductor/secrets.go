package main

import (
	"fmt"
	"io"
	"os"

	"conductor/pkg/config"
)

// runSecrets implements "secrets set <provider>".
func runSecrets(cfg *config.Config, args []string, p prompter, stdout io.Writer) error {
	if len(args) != 2 || args[0] != "set" {
		return fmt.Errorf("usage: conductor secrets set <provider>")
	}

	provider := args[1]
	name := config.APIKeyEnvVar(provider)
	if name == "" {
		return fmt.Errorf("provider %q does not use an API key", provider)
	}

	dir := cfg.Secrets.Dir
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}

	exists := config.SecretsFileExists(dir)
	password := os.Getenv(PasswordEnvVar)
	if password == "" {
		var err error
		if exists {
			password, err = p.ReadSecret("Enter project password: ")
		} else {
			password, err = promptNewPassword(p)
		}
		if err != nil {
			return err
		}
	}

	// Existing keys are kept.
	if exists {
		if err := config.LoadSecrets(dir, password); err != nil {
			return fmt.Errorf("failed to decrypt secrets: %w", err)
		}
	}

	key, err := p.ReadSecret(fmt.Sprintf("Enter %s: ", name))
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%s must not be empty", name)
	}

	if err := config.SetSecret(name, key); err != nil {
		return fmt.Errorf("failed to set secret: %w", err)
	}
	if err := config.SaveSecretsToFile(dir, password); err != nil {
		return fmt.Errorf("failed to save secrets: %w", err)
	}

	fmt.Fprintf(stdout, "✅ %s saved to %s (file permissions: 0600)\n", name, dir)
	return nil
}
