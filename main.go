// wakili-tui - terminal client for the Wakili Msomi legal assistant.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/wakilimsomi/wakili-tui/internal/api"
	"github.com/wakilimsomi/wakili-tui/internal/config"
	"github.com/wakilimsomi/wakili-tui/internal/conversation"
	"github.com/wakilimsomi/wakili-tui/internal/entitlement"
	"github.com/wakilimsomi/wakili-tui/internal/session"
	"github.com/wakilimsomi/wakili-tui/internal/storage"
	"github.com/wakilimsomi/wakili-tui/internal/ui"
	"github.com/wakilimsomi/wakili-tui/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	versionFlag := flag.Bool("version", false, "print version and exit")
	loginFlag := flag.Bool("login", false, "log in from the terminal before starting the UI")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("wakili-tui %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*loginFlag); err != nil {
		fmt.Fprintf(os.Stderr, "wakili-tui: %v\n", err)
		os.Exit(1)
	}
}

func run(promptLogin bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	config.SetGlobal(cfg)

	stateDir, err := config.Dir()
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(stateDir, cfg.Debug.Enabled)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := session.OpenStore(filepath.Join(stateDir, "session.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := session.NewManager(store)
	if err != nil {
		return err
	}

	client := api.NewClient(cfg.API.BaseURL, sess, log)

	if promptLogin && !sess.IsAuthenticated() {
		if err := terminalLogin(client, sess); err != nil {
			return err
		}
	}

	identity := entitlement.Identity{
		Username: sess.Username(),
		Plan:     entitlement.PlanFree,
	}
	if n, ok := sess.FreePrompts(); ok {
		identity.FreePromptsRemaining = n
	}
	tracker := entitlement.NewTracker(identity, sess)

	convSession := conversation.NewSession(client, sess, log)

	transcripts, err := storage.NewStore(filepath.Join(stateDir, "conversations"))
	if err != nil {
		return err
	}

	app := ui.NewApp(ui.Options{
		Client:      client,
		Session:     sess,
		Tracker:     tracker,
		ConvSession: convSession,
		Transcripts: transcripts,
		Language:    cfg.Chat.Language,
		Logger:      log,
	})

	program := tea.NewProgram(app, tea.WithAltScreen())

	// Conversation-created notifications reach the UI as messages
	convSession.OnCreated(func(id string) {
		program.Send(chat.ConversationCreatedMsg{ID: id})
	})

	// Config edits reach the running UI: the chat screen picks the new
	// language up for its next query
	if cfgPath, err := config.Path(); err == nil {
		watcher, err := config.NewWatcher(cfgPath, log, func(cfg *config.Config) {
			program.Send(chat.LanguageChangedMsg{Language: cfg.Chat.Language})
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watcher unavailable, edits need a restart")
		} else {
			defer watcher.Close()
		}
	}

	_, err = program.Run()
	return err
}

// terminalLogin reads credentials at the terminal, for use over SSH or
// in scripts where the login form is inconvenient.
func terminalLogin(client *api.Client, sess *session.Manager) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	username = strings.TrimSpace(username)

	fmt.Print("password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}

	token, err := client.Login(context.Background(), username, string(passwordBytes))
	if err != nil {
		return err
	}
	if err := sess.SetToken(token); err != nil {
		return err
	}
	return sess.SetUsername(username)
}

// newLogger returns the application logger. Without debug enabled it
// swallows everything; TUI output and log output do not share a
// terminal well.
func newLogger(stateDir string, debug bool) (zerolog.Logger, func(), error) {
	if !debug {
		return zerolog.Nop(), func() {}, nil
	}
	f, err := os.OpenFile(filepath.Join(stateDir, "debug.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("failed to open debug log: %w", err)
	}
	log := zerolog.New(f).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	return log, func() { f.Close() }, nil
}
