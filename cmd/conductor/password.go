package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"conductor/pkg/config"
	"conductor/pkg/logx"
)

// PasswordEnvVar holds the project password for passwordless startup.
const PasswordEnvVar = "CONDUCTOR_PASSWORD"

const maxPasswordAttempts = 3

// prompter reads secrets from the user.
type prompter interface {
	ReadSecret(prompt string) (string, error)
	Interactive() bool
}

// terminalPrompter reads without echo on a terminal and falls back to
// line reads otherwise. Its reader is shared with the chat REPL.
type terminalPrompter struct {
	reader *bufio.Reader
	out    io.Writer
	fd     int
	isTTY  bool
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	p := &terminalPrompter{reader: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok {
		p.fd = int(f.Fd()) //nolint:gosec // File descriptors fit in int
		p.isTTY = term.IsTerminal(p.fd)
	}
	return p
}

func (p *terminalPrompter) Interactive() bool {
	return p.isTTY
}

func (p *terminalPrompter) ReadSecret(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if p.isTTY {
		secret, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out) // New line after password input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(secret), nil
	}

	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// unlockSecrets sets the project password and decrypts the secrets file.
// The password comes from CONDUCTOR_PASSWORD or, when a secrets file
// exists, from a terminal prompt. Without a password the API runs without
// auth and provider keys come from the environment.
func unlockSecrets(dir string, p prompter) error {
	password := os.Getenv(PasswordEnvVar)
	exists := config.SecretsFileExists(dir)

	if password == "" && exists {
		if !p.Interactive() {
			return fmt.Errorf("secrets file found in %s: set %s or run on a terminal", dir, PasswordEnvVar)
		}
		var err error
		password, err = p.ReadSecret("Enter project password: ")
		if err != nil {
			return err
		}
	}

	if password == "" {
		logx.Infof("No project password set - API auth disabled, provider keys read from environment")
		return nil
	}

	config.SetProjectPassword(password)
	if err := config.LoadSecrets(dir, password); err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	return nil
}

// promptNewPassword asks for a password twice.
func promptNewPassword(p prompter) (string, error) {
	for attempt := 1; attempt <= maxPasswordAttempts; attempt++ {
		password1, err := p.ReadSecret("Enter a password for this project: ")
		if err != nil {
			return "", err
		}
		password2, err := p.ReadSecret("Confirm password: ")
		if err != nil {
			return "", err
		}

		if password1 == "" {
			return "", fmt.Errorf("password must not be empty")
		}
		if !bytes.Equal([]byte(password1), []byte(password2)) {
			if attempt < maxPasswordAttempts {
				logx.Warnf("Passwords do not match. Please try again.")
				continue
			}
			return "", fmt.Errorf("passwords do not match after %d attempts", maxPasswordAttempts)
		}
		return password1, nil
	}
	return "", fmt.Errorf("failed to get matching passwords")
}
