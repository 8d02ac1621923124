package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/decklog/internal/config"
	"github.com/conorfennell/decklog/internal/deck"
	"github.com/conorfennell/decklog/internal/diag"
	"github.com/conorfennell/decklog/internal/gamelog"
	"github.com/conorfennell/decklog/internal/logging"
	"github.com/conorfennell/decklog/internal/prefs"
	"github.com/conorfennell/decklog/internal/storage"
	decksync "github.com/conorfennell/decklog/internal/sync"
	"github.com/conorfennell/decklog/internal/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "decklog:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("decklog", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	syncOnStart := fs.Bool("sync", false, "Import decks from the configured sources before serving")
	syncOnly := fs.Bool("sync-only", false, "Import decks from the configured sources and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	logger.Info("Database opened successfully", "path", cfg.DB.Path)

	diagLog := diag.New(db,
		diag.WithLogger(logger),
		diag.WithLimits(cfg.Limits.Errors, cfg.Limits.ErrorMessage),
	)
	decks := deck.NewStore(db, diagLog, logger)
	if err := decks.InitDecks(ctx); err != nil {
		return fmt.Errorf("failed to load default decks: %w", err)
	}

	preferences := prefs.Open(cfg.Prefs.Path)
	games := gamelog.New(db, diagLog,
		gamelog.WithMaxGames(cfg.Limits.Games),
		gamelog.WithSeeder(decks),
		gamelog.WithSelection(preferences),
		gamelog.WithLogger(logger),
	)
	syncer := decksync.New(decks, cfg.Repos.Dir, logger)

	if *syncOnStart || *syncOnly {
		if _, err := syncer.RunSync(ctx, cfg.Sources); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		if *syncOnly {
			return nil
		}
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: web.NewServer(web.Deps{
			Decks:   decks,
			Games:   games,
			Errors:  diagLog,
			Syncer:  syncer,
			Prefs:   preferences,
			Sources: cfg.Sources,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
