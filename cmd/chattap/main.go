// chattap connects to the governance console's realtime channel and streams
// events to the terminal. Lines typed on stdin are sent as chat messages.
// Usage: go run ./cmd/chattap --origin https://console.example.com --token-file ~/.console-token
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentgov/consolestream/internal/connection"
	"github.com/agentgov/consolestream/internal/session"
)

func main() {
	origin := flag.String("origin", "http://localhost:8000", "console origin")
	token := flag.String("token", "", "bearer token (overrides --token-file)")
	tokenFile := flag.String("token-file", "", "path to token file")
	ping := flag.Bool("ping", false, "send one manual ping after connecting")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	var store session.Store
	switch {
	case *token != "":
		store = session.NewMemStore(*token)
	case *tokenFile != "":
		store = session.NewFileStore(*tokenFile, logger)
	default:
		fmt.Fprintln(os.Stderr, "either --token or --token-file is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg := connection.DefaultConfig()
	cfg.Origin = *origin

	mgr := connection.NewManager(cfg, store, logger)

	var d connection.Dispatcher
	d.SetOnChat(func(msg connection.Message) {
		printMessage("chat", msg, *verbose)
	})
	d.SetOnStatus(func(msg connection.Message) {
		printMessage("status", msg, *verbose)
	})
	d.SetOnSystem(func(msg connection.Message) {
		printMessage("system", msg, *verbose)
	})
	d.SetOnError(func(msg connection.Message) {
		printMessage("error", msg, *verbose)
	})
	d.SetOnUnknown(func(msg connection.Message) {
		printMessage("?", msg, *verbose)
	})
	mgr.OnMessage(d.Dispatch)

	mgr.Connect()
	defer mgr.Disconnect()

	// Wait briefly for the connection before the optional probe
	if *ping {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) && !mgr.State().IsConnected() {
			time.Sleep(50 * time.Millisecond)
		}
		if mgr.SendPing() {
			fmt.Println("-- ping sent")
		} else {
			fmt.Println("-- ping failed:", mgr.State().LastError)
		}
	}

	// Forward stdin lines as chat messages
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !mgr.SendMessage(line) {
				fmt.Fprintln(os.Stderr, "-- send failed:", mgr.State().LastError)
			}
		}
	}()

	// Print connection transitions until interrupted
	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(250 * time.Millisecond):
			state := mgr.State()
			line := state.Status.String()
			if state.LastError != "" {
				line += ": " + state.LastError
			}
			if line != last {
				fmt.Println("--", line)
				last = line
			}
		}
	}
}

func printMessage(kind string, msg connection.Message, verbose bool) {
	if verbose {
		data, _ := json.Marshal(msg)
		fmt.Printf("[%s] %s\n", kind, data)
		return
	}

	who := msg.Role
	if who == "" {
		who = msg.AgentID
	}
	if who == "" {
		who = msg.Type
	}
	fmt.Printf("[%s] %s: %s\n", kind, who, msg.Content)
}
