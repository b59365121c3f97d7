package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vtudose/olx-watch-bot/internal/catalog"
	"github.com/vtudose/olx-watch-bot/internal/config"
	"github.com/vtudose/olx-watch-bot/internal/notifier"
	"github.com/vtudose/olx-watch-bot/internal/poller"
	"github.com/vtudose/olx-watch-bot/internal/query"
	"github.com/vtudose/olx-watch-bot/internal/seen"
)

type Server struct {
	poller  *poller.Poller
	watches []config.Watch
	cfg     *config.Config

	// group collapses overlapping runs for the same category: a second
	// trigger while a category's session is still going must not start a
	// concurrent session and double-emit.
	group singleflight.Group
}

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	once := flag.Bool("once", false, "poll all watches once and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}
	watches, err := config.LoadWatches()
	if err != nil {
		slog.Error("Critical error loading watch list", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("Critical error initializing seen store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	fetcher := catalog.New(cfg.HTTPTimeout, cfg.RequestDelay, cfg.UserAgent)
	n := notifier.New(cfg.TelegramBotToken, cfg.TelegramChatID)
	p := poller.New(fetcher, store, n, cfg)

	srv := &Server{poller: p, watches: watches, cfg: cfg}

	if *once {
		runCtx, cancel := context.WithTimeout(ctx, cfg.PollTimeout)
		defer cancel()
		if err := srv.runAll(runCtx); err != nil {
			slog.Error("Poll run finished with errors", "error", err)
			os.Exit(1)
		}
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/poll", srv.PollHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		slog.Info("Received signal, shutting down gracefully...", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("Listening on port", "port", cfg.Port, "watches", len(watches))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to listen and serve", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped.")
}

func newStore(ctx context.Context, cfg *config.Config) (seen.Store, error) {
	switch cfg.StateBackend {
	case config.BackendFirestore:
		return seen.NewFirestoreStore(ctx, cfg.ProjectID, cfg.SeenLimit)
	default:
		return seen.NewFileStore(cfg.StateFile, cfg.SeenLimit), nil
	}
}

// PollHandler kicks off one run over all watches and returns immediately;
// schedulers (Cloud Scheduler, cron + curl) only need the trigger to land.
func (s *Server) PollHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Panic in poll run", "panic", rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PollTimeout)
		defer cancel()
		if err := s.runAll(ctx); err != nil {
			slog.Error("Poll run finished with errors", "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "Poll started.")
}

// runAll polls every watch. Watches fan out concurrently up to the
// configured limit; pages within one watch stay strictly sequential.
func (s *Server) runAll(ctx context.Context) error {
	// No shared cancellation: one failing watch must not abort the others.
	var g errgroup.Group
	g.SetLimit(s.cfg.PollConcurrency)

	for _, watch := range s.watches {
		watch := watch
		g.Go(func() error {
			category := query.Category(watch.Name, watch.URL)
			_, err, shared := s.group.Do(category, func() (any, error) {
				return s.poller.Run(ctx, watch)
			})
			if shared {
				slog.Info("Skipped overlapping session", "category", category)
			}
			if err != nil {
				return fmt.Errorf("watch %s: %w", category, err)
			}
			return nil
		})
	}
	return g.Wait()
}
