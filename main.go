package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"parley/internal/client"
	"parley/internal/config"
	"parley/internal/models"
	"parley/internal/session"
	"parley/internal/sessionstore"
	"parley/internal/store"
	"parley/internal/upload"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sessions, err := sessionstore.Open(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = sessions.Close() }()

	manager := session.NewManager(session.Config{
		URL:      cfg.SocketURL,
		Sessions: sessions,
		Logger:   logger,
	})

	messages := store.New()

	chat := client.New(client.Config{
		Conn:     manager,
		Store:    messages,
		Uploads:  upload.New(cfg.ServerURL),
		Contexts: sessions,
		Logger:   logger,
	})
	defer chat.Close()

	// Prefer the persisted session; fall back to credentials from the
	// environment when none is stored.
	sess, lastContext, err := sessions.Load()
	switch {
	case err == nil:
		manager.RestoreSession(sess)
		chat.SelectContext(lastContext)
		manager.Connect()
	case errors.Is(err, models.ErrNotFound):
		if cfg.Username == "" || cfg.Password == "" {
			return errors.New("no stored session; set PARLEY_USERNAME and PARLEY_PASSWORD")
		}
		if err := manager.Authenticate(cfg.Username, cfg.Password, ""); err != nil {
			return fmt.Errorf("PARLEY_USERNAME: %w", err)
		}
	default:
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down...")
		manager.Teardown()
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
