package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perepiska/internal/auth"
	"perepiska/internal/commands"
	"perepiska/internal/config"
	"perepiska/internal/engine"
	"perepiska/internal/http"
	"perepiska/internal/membership"
	"perepiska/internal/storage"
	"perepiska/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("perepiska", flag.ContinueOnError)
	sessionName := flags.String("start-session", "", "Display name to start a session for (prints a token and the websocket URL)")
	sessionUserID := flags.String("user-id", "", "User id for -start-session; a new one is generated when empty")
	sessionEmail := flags.String("email", "", "Email for -start-session")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *sessionName != "" {
		return commands.StartSession(auth.SessionRequest{
			UserID:      *sessionUserID,
			DisplayName: *sessionName,
			Email:       *sessionEmail,
		}, cfg)
	}

	bbStorage, err := storage.NewBboltStore(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	store := storage.NewRetryingStore(bbStorage, storage.RetryPolicy{
		MaxRetries:      cfg.StoreRetryMax,
		InitialInterval: cfg.StoreRetryBackoff,
	})

	authService, err := auth.NewAuthService(ctx, auth.Config{TokenExpiry: cfg.SessionTTL})
	if err != nil {
		return err
	}

	members := membership.New(ctx, store, membership.DefaultEmailCacheTTL)
	hub := ws.NewHub(store, members, engine.Config{
		MessageLimit:    cfg.MessageWindow,
		ScrollThreshold: cfg.ScrollThreshold,
	})

	g, gCtx := errgroup.WithContext(ctx)

	adminServer := http.NewAdminServer(authService, members, hub, cfg.AdminAddr)
	apiServer := http.NewAPIServer(gCtx, authService, members, hub, cfg.APIAddr)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	err = g.Wait()
	// Connections end with gCtx; their sessions still write presence on the way out.
	hub.Wait()
	return err
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
