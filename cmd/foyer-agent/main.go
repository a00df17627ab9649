// ABOUTME: Minimal echo agent for trying foyer locally, the answering side of the chat.
// ABOUTME: Usage: foyer-agent -homeserver URL -user @agent:server -token TOKEN

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/matrix"
)

func main() {
	homeserver := flag.String("homeserver", "http://localhost:8008", "Homeserver URL")
	user := flag.String("user", "", "Agent user id (@agent:server)")
	token := flag.String("token", os.Getenv("FOYER_AGENT_TOKEN"), "Agent access token (or FOYER_AGENT_TOKEN)")
	name := flag.String("name", "Echo Agent", "Display name to present")
	flag.Parse()

	if *user == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "Usage: foyer-agent -homeserver URL -user @agent:server -token TOKEN")
		os.Exit(1)
	}

	if err := run(*homeserver, *user, *token, *name); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(homeserver, user, token, name string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := matrix.NewClientWithToken(homeserver, id.UserID(user), token)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	whoami, err := client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("verifying token: %w", err)
	}
	fmt.Fprintf(os.Stderr, "answering as %s\n", whoami)

	if err := client.SetDisplayName(ctx, name); err != nil {
		fmt.Fprintf(os.Stderr, "could not set display name: %v\n", err)
	}

	// The responder bot invites this account when a customer opens a
	// conversation; accept everything.
	err = client.OnInvite(func(ctx context.Context, roomID id.RoomID, sender id.UserID) {
		fmt.Fprintf(os.Stderr, "joining %s (invited by %s)\n", roomID, sender)
		if err := client.Join(ctx, roomID); err != nil {
			fmt.Fprintf(os.Stderr, "join failed: %v\n", err)
		}
	})
	if err != nil {
		return err
	}

	err = client.OnMessage(func(ctx context.Context, evt *event.Event) {
		if evt.Sender == whoami {
			return
		}
		content, ok := evt.Content.Parsed.(*event.MessageEventContent)
		if !ok || content.MsgType != event.MsgText {
			return
		}
		fmt.Printf("[%s] %s: %s\n", evt.RoomID, evt.Sender, content.Body)

		go func() {
			// A beat of delay keeps the demo from feeling instant.
			time.Sleep(400 * time.Millisecond)
			if _, err := client.SendMessage(ctx, evt.RoomID, echoReply(content.Body)); err != nil {
				fmt.Fprintf(os.Stderr, "reply failed: %v\n", err)
			}
		}()
	})
	if err != nil {
		return err
	}

	if err := client.Sync(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	switch {
	case strings.Contains(lower, "hello"), strings.HasPrefix(lower, "hi"):
		return "Hello! Thanks for reaching out. How can I help today?"
	case strings.Contains(lower, "refund"), strings.Contains(lower, "billing"):
		return "I can look into that. Could you share the order number?"
	case strings.Contains(lower, "thank"):
		return "Happy to help!"
	default:
		return fmt.Sprintf("Got it: %q. Let me check that for you.", input)
	}
}
