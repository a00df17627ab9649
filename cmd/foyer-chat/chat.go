// ABOUTME: Interactive conversation loop for the foyer chat CLI
// ABOUTME: Reads customer input, dispatches slash commands, and prints the event stream

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/foyer-chat/foyer/internal/chat"
	"github.com/foyer-chat/foyer/internal/config"
	"github.com/foyer-chat/foyer/internal/rooms"
	"github.com/foyer-chat/foyer/internal/session"
	"github.com/foyer-chat/foyer/internal/timeline"
)

func runChat(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s (run foyer-chat init to create one): %w", configPath, err)
	}

	setupLogger(cfg.Logging)

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	client, err := chat.New(cfg, store)
	if err != nil {
		return fmt.Errorf("creating chat client: %w", err)
	}
	defer client.Close()

	// Startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver:  %s\n", cfg.Homeserver.URL)
	green.Print("    ▶ ")
	fmt.Printf("Session:     %s\n", cfg.Session.Backend)
	green.Print("    ▶ ")
	fmt.Printf("Departments: %d\n", len(cfg.Departments))
	if cfg.Spaces.Enabled {
		green.Print("    ▶ ")
		fmt.Println("Spaces:      enabled")
	}
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	profilePath := getProfilePath()
	profile, found, err := loadProfile(profilePath)
	if err != nil {
		return fmt.Errorf("loading profile from %s: %w", profilePath, err)
	}
	if !found {
		fmt.Println("Tell us who you are. Answers are saved for next time.")
		profile = promptProfile(scanner)
		if err := saveProfile(profilePath, profile); err != nil {
			slog.Warn("could not save profile", "path", profilePath, "error", err)
		} else {
			fmt.Printf("Profile saved to %s\n", profilePath)
		}
		fmt.Println()
	}

	// Subscribe before opening so connection events are not missed.
	events, subID := client.Subscribe(ctx)
	defer client.Unsubscribe(subID)
	go func() {
		for ev := range events {
			printEvent(ev)
		}
	}()

	// A department hint from the stored record keeps the prompt default on
	// whatever the customer talked to last.
	hint := ""
	if s, err := client.Session(ctx); err == nil {
		hint = s.SelectedDepartment
	}

	departmentID := hint
	valid, err := client.ValidateCurrentRoom(ctx, "")
	if err != nil {
		slog.Warn("stored room could not be validated, starting over", "error", err)
	}
	if valid {
		fmt.Printf("Resumed your conversation with %s.\n", departmentName(client.Departments(), departmentID))
	} else {
		departmentID = chooseDepartment(scanner, client.Departments(), hint)
		res, err := client.ResumeOrCreate(ctx, profile, departmentID)
		if err != nil {
			return fmt.Errorf("opening conversation: %w", err)
		}
		fmt.Println(describeResult(res, departmentName(client.Departments(), departmentID)))
	}

	if msgs, err := client.LoadHistory(ctx); err == nil && len(msgs) > 0 {
		fmt.Println()
		printTranscript(msgs)
	}

	fmt.Println()
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	err = chatLoop(ctx, client, scanner, profile, departmentID)
	fmt.Println("\nGoodbye!")
	return err
}

func chatLoop(ctx context.Context, client *chat.Client, scanner *bufio.Scanner, profile session.Profile, departmentID string) error {
	for {
		fmt.Print("> ")

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		// Check for quit commands
		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if input == "/help" {
			printHelp()
			fmt.Println()
			continue
		}

		if input == "/departments" {
			printDepartments(client.Departments(), departmentID)
			fmt.Println()
			continue
		}

		if strings.HasPrefix(input, "/switch") {
			args := strings.TrimSpace(strings.TrimPrefix(input, "/switch"))
			if args == "" {
				fmt.Println("Usage: /switch <department-id>")
				fmt.Println()
				continue
			}
			if !knownDepartment(client.Departments(), args) {
				fmt.Printf("Unknown department %q. /departments lists them.\n\n", args)
				continue
			}
			res, err := client.SwitchDepartment(ctx, profile, args)
			if err != nil {
				fmt.Printf("[error] %v\n\n", err)
				continue
			}
			departmentID = args
			fmt.Println(describeResult(res, departmentName(client.Departments(), departmentID)))
			fmt.Println()
			continue
		}

		if input == "/fresh" {
			res, err := client.NewConversation(ctx, profile, departmentID)
			if err != nil {
				fmt.Printf("[error] %v\n\n", err)
				continue
			}
			fmt.Println(describeResult(res, departmentName(client.Departments(), departmentID)))
			fmt.Println()
			continue
		}

		if input == "/history" {
			msgs, err := client.LoadHistory(ctx)
			if err != nil {
				fmt.Printf("[error] %v\n\n", err)
				continue
			}
			if len(msgs) == 0 {
				fmt.Println("No messages yet.")
			} else {
				printTranscript(msgs)
			}
			fmt.Println()
			continue
		}

		if input == "/status" {
			s, err := client.Session(ctx)
			if err != nil {
				fmt.Printf("[error] %v\n\n", err)
				continue
			}
			fmt.Printf("Connected:     %t\n", client.Connected())
			printSession(s)
			fmt.Println()
			continue
		}

		if input == "/reset" {
			fmt.Print("This discards your guest identity and conversation history. Type yes to confirm: ")
			if !scanner.Scan() || !strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes") {
				fmt.Println("Aborted.")
				fmt.Println()
				continue
			}
			if err := client.Reset(ctx); err != nil {
				fmt.Printf("[error] %v\n\n", err)
				continue
			}
			res, err := client.ResumeOrCreate(ctx, profile, departmentID)
			if err != nil {
				fmt.Printf("[error] %v\n\n", err)
				continue
			}
			fmt.Println(describeResult(res, departmentName(client.Departments(), departmentID)))
			fmt.Println()
			continue
		}

		if strings.HasPrefix(input, "/") {
			fmt.Printf("Unknown command %s. /help for commands.\n\n", input)
			continue
		}

		// Anything else is a message. The returned copy is our own echo;
		// agent replies arrive on the event stream.
		if _, err := client.SendMessage(ctx, input); err != nil {
			fmt.Printf("[error] %v\n", err)
		}
	}
}

// printHelp displays available commands.
func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /departments   List departments")
	fmt.Println("  /switch <id>   Move the conversation to another department")
	fmt.Println("  /fresh         Start a new conversation in the current department")
	fmt.Println("  /history       Reprint the conversation transcript")
	fmt.Println("  /status        Show session details")
	fmt.Println("  /reset         Discard identity and history, start over")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit")
}

// chooseDepartment asks which department to talk to. A single configured
// department is chosen without prompting.
func chooseDepartment(scanner *bufio.Scanner, departments []chat.DepartmentInfo, hint string) string {
	if len(departments) == 1 {
		return departments[0].ID
	}

	fmt.Println("Departments:")
	for i, d := range departments {
		if d.Description != "" {
			fmt.Printf("  %d. %s (%s)\n", i+1, d.Name, d.Description)
		} else {
			fmt.Printf("  %d. %s\n", i+1, d.Name)
		}
	}

	defaultID := departments[0].ID
	if knownDepartment(departments, hint) {
		defaultID = hint
	}

	for {
		answer := promptLine(scanner, "Department", defaultID)
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(departments) {
			return departments[n-1].ID
		}
		if knownDepartment(departments, answer) {
			return answer
		}
		fmt.Println("Pick a number or one of the ids above.")
	}
}

// promptLine asks a question on stdout and reads one line, returning the
// default on empty input or EOF.
func promptLine(scanner *bufio.Scanner, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	if !scanner.Scan() {
		fmt.Println()
		return defaultVal
	}

	input := strings.TrimSpace(scanner.Text())
	if input == "" {
		return defaultVal
	}
	return input
}

func printEvent(ev chat.Event) {
	switch ev.Type {
	case chat.EventMessage:
		if ev.Message != nil {
			printMessage(*ev.Message)
		}
	case chat.EventConnection:
		gray := color.New(color.FgHiBlack)
		if ev.Connected {
			gray.Println("[connected]")
		} else {
			gray.Println("[connection lost]")
		}
	case chat.EventError:
		if ev.Error != nil {
			color.New(color.FgYellow).Printf("! %s\n", ev.Error.Message)
		}
	}
}

func printMessage(m timeline.Message) {
	ts := color.HiBlackString(m.Timestamp.Format("15:04"))
	switch m.Sender {
	case timeline.SenderCustomer:
		fmt.Printf("%s %s %s\n", ts, color.GreenString("  you:"), m.Body)
	default:
		fmt.Printf("%s %s %s\n", ts, color.CyanString("agent:"), m.Body)
	}
}

func printTranscript(msgs []timeline.Message) {
	for _, m := range msgs {
		printMessage(m)
	}
}

func printDepartments(departments []chat.DepartmentInfo, activeID string) {
	fmt.Println("Departments:")
	for _, d := range departments {
		marker := "  "
		if d.ID == activeID {
			marker = color.GreenString("* ")
		}
		if d.Description != "" {
			fmt.Printf("  %s%s: %s (%s)\n", marker, d.ID, d.Name, d.Description)
		} else {
			fmt.Printf("  %s%s: %s\n", marker, d.ID, d.Name)
		}
	}
}

func printSession(s *session.Session) {
	fmt.Printf("Customer:      %s\n", s.CustomerID)
	if s.Guest != nil {
		fmt.Printf("Guest:         %s\n", s.Guest.UserID)
	} else {
		fmt.Println("Guest:         not provisioned")
	}
	fmt.Printf("Returning:     %t\n", s.Returning)
	if s.CurrentRoomID != "" {
		fmt.Printf("Room:          %s\n", s.CurrentRoomID)
	}
	if s.SelectedDepartment != "" {
		fmt.Printf("Department:    %s\n", s.SelectedDepartment)
	}
	fmt.Printf("Conversations: %d\n", s.ConversationCount)
	if !s.LastActivity.IsZero() {
		fmt.Printf("Last activity: %s\n", s.LastActivity.Format("2006-01-02 15:04:05"))
	}
	for _, dept := range s.Departments {
		fmt.Printf("  %s: %s room %s, %d conversation(s)\n",
			dept.DepartmentID, dept.Status, dept.RoomID, dept.ConversationCount)
	}
}

// describeResult turns a room lifecycle outcome into a line for the customer.
func describeResult(res *rooms.Result, deptName string) string {
	switch res.Mode {
	case rooms.ModeActive:
		return fmt.Sprintf("Resumed your conversation with %s.", deptName)
	case rooms.ModeRejoined, rooms.ModeReinvited:
		return fmt.Sprintf("Reconnected to your conversation with %s.", deptName)
	default:
		return fmt.Sprintf("Started a new conversation with %s.", deptName)
	}
}

func departmentName(departments []chat.DepartmentInfo, id string) string {
	for _, d := range departments {
		if d.ID == id {
			return d.Name
		}
	}
	return id
}

func knownDepartment(departments []chat.DepartmentInfo, id string) bool {
	for _, d := range departments {
		if d.ID == id {
			return true
		}
	}
	return false
}
