package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
)

func main() {
	_ = godotenv.Load()

	apiURL := os.Getenv("TASKBOARD_API_URL")
	appID := os.Getenv("APP_ID")
	if apiURL == "" || appID == "" {
		fmt.Fprintln(os.Stderr, "TASKBOARD_API_URL and APP_ID must be set")
		os.Exit(1)
	}

	logger := log.New()
	logger.SetOutput(io.Discard)
	if path := os.Getenv("BOARD_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger.SetOutput(f)
		logger.SetFormatter(&log.JSONFormatter{})
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		logger.SetLevel(log.DebugLevel)
	}

	var interval time.Duration
	if v := os.Getenv("REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "invalid REFRESH_INTERVAL: %q\n", v)
			os.Exit(1)
		}
		interval = d
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := board.NewClient(apiURL, appID, nil)
	sess, err := board.NewSession(ctx, board.SessionConfig{
		Client:    client,
		ClientID:  os.Getenv("CLIENT_ID"),
		CompanyID: os.Getenv("COMPANY_ID"),
		Interval:  interval,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	go func() {
		if err := sess.Run(ctx); err != nil {
			logger.WithError(err).Error("refresh loop stopped")
		}
	}()

	p := tea.NewProgram(newModel(sess.Store, sess.Controller), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
