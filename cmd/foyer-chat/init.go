// ABOUTME: Interactive config file generator for the foyer chat CLI
// ABOUTME: Prompts for homeserver, departments, and storage, then writes YAML

package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("foyer-chat configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Homeserver
	fmt.Println("\n--- Homeserver ---")
	hsURL := prompt(reader, "Homeserver URL", "https://matrix.example.org")
	defaultServer := "example.org"
	if u, err := url.Parse(hsURL); err == nil && u.Hostname() != "" {
		defaultServer = strings.TrimPrefix(u.Hostname(), "matrix.")
	}
	serverName := prompt(reader, "Server name (the part after the colon in user ids)", defaultServer)
	regSecret := prompt(reader, "Registration shared secret", "${FOYER_REG_SECRET}")

	// Departments
	fmt.Println("\n--- Departments ---")
	fmt.Println("Each department needs a responder bot account; its token invites agents")
	fmt.Println("and creates conversation rooms.")

	type deptAnswers struct {
		id, name, description, botUser, token string
		responders                            []string
	}
	var depts []deptAnswers
	for {
		d := deptAnswers{}
		for {
			d.id = prompt(reader, "Department id", defaultDeptID(len(depts)))
			if d.id != "" {
				break
			}
			fmt.Println("Department id is required.")
		}
		d.name = prompt(reader, "Display name", titleCase(d.id))
		d.description = prompt(reader, "Description (optional)", "")
		d.botUser = prompt(reader, "Responder bot user id", fmt.Sprintf("@%s-bot:%s", d.id, serverName))
		d.token = prompt(reader, "Responder bot access token", defaultTokenVar(d.id))
		respondersRaw := prompt(reader, "Agent user ids to invite (comma separated, optional)", "")
		for _, r := range strings.Split(respondersRaw, ",") {
			if r = strings.TrimSpace(r); r != "" {
				d.responders = append(d.responders, r)
			}
		}
		depts = append(depts, d)

		more := prompt(reader, "Add another department?", "no")
		if strings.ToLower(more) != "yes" && strings.ToLower(more) != "y" {
			break
		}
		fmt.Println()
	}

	// Session storage
	fmt.Println("\n--- Session Storage ---")
	backend := prompt(reader, "Backend (memory/file/sqlite/redis)", "file")
	var sessionPath, redisAddr string
	switch backend {
	case "file":
		sessionPath = prompt(reader, "Session file path", filepath.Join(defaultDataPath, "session.json"))
	case "sqlite":
		sessionPath = prompt(reader, "Session database path", filepath.Join(defaultDataPath, "sessions.db"))
	case "redis":
		redisAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	// Spaces
	fmt.Println("\n--- Spaces ---")
	enableSpaces := prompt(reader, "Organize rooms into a space?", "no")
	spacesEnabled := strings.ToLower(enableSpaces) == "yes" || strings.ToLower(enableSpaces) == "y"

	var spacesBot, spacesToken, spacesRoot string
	if spacesEnabled {
		spacesBot = prompt(reader, "Spaces bot user id", fmt.Sprintf("@spaces-bot:%s", serverName))
		spacesToken = prompt(reader, "Spaces bot access token", "${FOYER_SPACES_TOKEN}")
		spacesRoot = prompt(reader, "Root space name", "Customer Support")
	}

	// Logging
	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# foyer-chat configuration\n")
	cfg.WriteString("# Generated by foyer-chat init\n")
	cfg.WriteString("# ${VAR} references are expanded from the environment on load.\n\n")

	cfg.WriteString("homeserver:\n")
	cfg.WriteString(fmt.Sprintf("  url: \"%s\"\n", hsURL))
	cfg.WriteString(fmt.Sprintf("  server_name: \"%s\"\n", serverName))
	cfg.WriteString("\n")

	cfg.WriteString("guest:\n")
	cfg.WriteString(fmt.Sprintf("  registration_shared_secret: \"%s\"\n", regSecret))
	cfg.WriteString("\n")

	cfg.WriteString("departments:\n")
	for _, d := range depts {
		cfg.WriteString(fmt.Sprintf("  - id: \"%s\"\n", d.id))
		cfg.WriteString(fmt.Sprintf("    name: \"%s\"\n", d.name))
		if d.description != "" {
			cfg.WriteString(fmt.Sprintf("    description: \"%s\"\n", d.description))
		}
		cfg.WriteString(fmt.Sprintf("    bot_user_id: \"%s\"\n", d.botUser))
		cfg.WriteString(fmt.Sprintf("    access_token: \"%s\"\n", d.token))
		if len(d.responders) > 0 {
			cfg.WriteString("    responders:\n")
			for _, r := range d.responders {
				cfg.WriteString(fmt.Sprintf("      - \"%s\"\n", r))
			}
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("session:\n")
	cfg.WriteString(fmt.Sprintf("  backend: \"%s\"\n", backend))
	if sessionPath != "" {
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", sessionPath))
	}
	if redisAddr != "" {
		cfg.WriteString("  redis:\n")
		cfg.WriteString(fmt.Sprintf("    addr: \"%s\"\n", redisAddr))
	}
	cfg.WriteString("\n")

	if spacesEnabled {
		cfg.WriteString("spaces:\n")
		cfg.WriteString("  enabled: true\n")
		cfg.WriteString(fmt.Sprintf("  bot_user_id: \"%s\"\n", spacesBot))
		cfg.WriteString(fmt.Sprintf("  access_token: \"%s\"\n", spacesToken))
		cfg.WriteString(fmt.Sprintf("  root_name: \"%s\"\n", spacesRoot))
		cfg.WriteString(fmt.Sprintf("  state_path: \"%s\"\n", filepath.Join(defaultDataPath, "spaces.json")))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists for file-backed session stores
	if sessionPath != "" {
		if err := os.MkdirAll(filepath.Dir(sessionPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start chatting:")
	fmt.Printf("  foyer-chat\n")

	return nil
}

func defaultDeptID(n int) string {
	if n == 0 {
		return "support"
	}
	return ""
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// defaultTokenVar suggests an env var reference for a department token.
func defaultTokenVar(deptID string) string {
	v := strings.ToUpper(strings.ReplaceAll(deptID, "-", "_"))
	return fmt.Sprintf("${FOYER_%s_TOKEN}", v)
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
