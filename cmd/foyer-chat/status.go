// ABOUTME: Offline session inspection and reset subcommands
// ABOUTME: Operate on the session store directly without contacting the homeserver

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/foyer-chat/foyer/internal/config"
)

func runStatus(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogger(cfg.Logging)

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	s, err := store.Get(ctx)
	if err != nil {
		return fmt.Errorf("reading session record: %w", err)
	}

	fmt.Printf("Store:         %s", cfg.Session.Backend)
	if cfg.Session.Path != "" && cfg.Session.Backend != "memory" {
		fmt.Printf(" (%s)", cfg.Session.Path)
	}
	fmt.Println()
	printSession(s)
	return nil
}

func runReset(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogger(cfg.Logging)

	reader := bufio.NewReader(os.Stdin)
	answer := prompt(reader, "Discard the guest identity and all conversation history?", "no")
	if strings.ToLower(answer) != "yes" && strings.ToLower(answer) != "y" {
		fmt.Println("Aborted.")
		return nil
	}

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	if _, err := store.Reset(ctx); err != nil {
		return fmt.Errorf("resetting session: %w", err)
	}

	fmt.Println("Session record cleared. The next chat provisions a fresh guest.")
	return nil
}
