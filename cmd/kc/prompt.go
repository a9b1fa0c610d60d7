package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassphrase returns KC_SNAPSHOT_PASSPHRASE if set, else prompts on the
// terminal without echo.
func readPassphrase() (string, error) {
	if p := os.Getenv("KC_SNAPSHOT_PASSPHRASE"); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; set KC_SNAPSHOT_PASSPHRASE")
	}

	fmt.Fprint(os.Stderr, "Snapshot passphrase: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}

	pass := strings.TrimSpace(string(b))
	if pass == "" {
		return "", fmt.Errorf("empty passphrase")
	}
	return pass, nil
}
