package steam

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Credentials identify the Steam account used for an install. The zero value
// means anonymous, which is all the dedicated server depot requires.
type Credentials struct {
	Username string
	Password string
}

// Anonymous reports whether the login line should use the anonymous account.
func (c Credentials) Anonymous() bool {
	return c.Username == ""
}

// PromptCredentials reads a username and, when one is given, a no-echo
// password from the terminal. An empty username falls back to anonymous.
func PromptCredentials(in io.Reader, out io.Writer) (Credentials, error) {
	fmt.Fprint(out, "Steam username (empty for anonymous): ")
	reader := bufio.NewReader(in)
	username, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return Credentials{}, fmt.Errorf("reading username: %w", err)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return Credentials{}, nil
	}

	fmt.Fprint(out, "Steam password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading password: %w", err)
	}
	return Credentials{Username: username, Password: string(password)}, nil
}
