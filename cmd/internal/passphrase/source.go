// Package passphrase resolves the signer keystore passphrase for the CLI:
// from an environment variable when one is set, otherwise by prompting on the
// terminal. The resolved value is cached so a command reads it once.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase. The zero value is not usable; build
// one with NewSource.
type Source struct {
	envVar string

	once  sync.Once
	value string
	err   error
}

// NewSource builds a source that checks envVar before prompting.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar)}
}

// Get resolves the passphrase for an existing keystore.
func (s *Source) Get() (string, error) {
	return s.resolve(false)
}

// GetNew resolves the passphrase for a keystore being created. When the
// value comes from an interactive prompt it must be typed twice; a typo in a
// write-only passphrase would lock the new key forever.
func (s *Source) GetNew() (string, error) {
	return s.resolve(true)
}

func (s *Source) resolve(confirm bool) (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.read(confirm)
	})
	return s.value, s.err
}

func (s *Source) read(confirm bool) (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if s.envVar != "" {
			return "", fmt.Errorf("signer keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("signer keystore passphrase required and no terminal available")
	}

	first, err := prompt("Enter signer keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("signer keystore passphrase cannot be empty")
	}
	if confirm {
		second, err := prompt("Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", errors.New("passphrases do not match")
		}
	}
	return first, nil
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
