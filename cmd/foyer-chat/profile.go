// ABOUTME: Visitor profile loading and saving for the foyer chat CLI
// ABOUTME: Stores contact details as TOML under the XDG config directory

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/foyer-chat/foyer/internal/session"
)

// profileFile is the on-disk shape of the visitor profile.
type profileFile struct {
	Visitor visitorProfile `toml:"visitor"`
}

type visitorProfile struct {
	DisplayName    string `toml:"display_name"`
	Email          string `toml:"email"`
	Phone          string `toml:"phone"`
	OpeningMessage string `toml:"opening_message"`
}

// getProfilePath returns the path to the visitor profile file.
// Priority: FOYER_PROFILE env var > XDG_CONFIG_HOME/foyer/profile.toml > ~/.config/foyer/profile.toml
func getProfilePath() string {
	if envPath := os.Getenv("FOYER_PROFILE"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "profile.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "foyer", "profile.toml")
}

// loadProfile reads the visitor profile. found is false when no profile file
// exists yet, which is not an error.
func loadProfile(path string) (profile session.Profile, found bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return session.Profile{}, false, nil
	}
	if err != nil {
		return session.Profile{}, false, fmt.Errorf("reading profile file: %w", err)
	}

	var pf profileFile
	if _, err := toml.Decode(string(data), &pf); err != nil {
		return session.Profile{}, false, fmt.Errorf("parsing profile: %w", err)
	}

	return session.Profile{
		DisplayName:    pf.Visitor.DisplayName,
		Email:          pf.Visitor.Email,
		Phone:          pf.Visitor.Phone,
		OpeningMessage: pf.Visitor.OpeningMessage,
	}, true, nil
}

// saveProfile writes the visitor profile, creating the config directory if
// needed.
func saveProfile(path string, profile session.Profile) error {
	var out strings.Builder
	out.WriteString("# foyer visitor profile\n")
	out.WriteString("# Edit freely; foyer-chat reads this on startup.\n\n")
	out.WriteString("[visitor]\n")
	out.WriteString(fmt.Sprintf("display_name = %q\n", profile.DisplayName))
	out.WriteString(fmt.Sprintf("email = %q\n", profile.Email))
	out.WriteString(fmt.Sprintf("phone = %q\n", profile.Phone))
	out.WriteString(fmt.Sprintf("opening_message = %q\n", profile.OpeningMessage))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(out.String()), 0644); err != nil {
		return fmt.Errorf("writing profile file: %w", err)
	}
	return nil
}

// promptProfile collects contact details interactively.
func promptProfile(scanner *bufio.Scanner) session.Profile {
	return session.Profile{
		DisplayName:    promptLine(scanner, "Your name", "Customer"),
		Email:          promptLine(scanner, "Email (optional)", ""),
		Phone:          promptLine(scanner, "Phone (optional)", ""),
		OpeningMessage: promptLine(scanner, "First message to send when a conversation opens", "Hi, I have a question."),
	}
}
