package cmd

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/slipway-hq/slipway/api"
	"github.com/slipway-hq/slipway/cache"
	"github.com/slipway-hq/slipway/claim"
	"github.com/slipway-hq/slipway/leaderboard"
	"github.com/slipway-hq/slipway/ratelimit"
	"github.com/slipway-hq/slipway/review"
	"github.com/slipway-hq/slipway/session"
	"github.com/slipway-hq/slipway/store"
	bboltstore "github.com/slipway-hq/slipway/store/bbolt"
	"github.com/slipway-hq/slipway/store/postgres"
	"github.com/slipway-hq/slipway/worker"
)

var (
	port           int
	dataDir        string
	postgresDSN    string
	redisAddr      string
	sessionTTL     time.Duration
	leaseDuration  time.Duration
	systemReviewer int64
)

const (
	sweepInterval = time.Minute
	sessionSweep  = time.Hour
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the review dashboard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		ctx := cmd.Context()

		st, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		c, closeCache, err := openCache(ctx, log)
		if err != nil {
			return err
		}
		defer closeCache()

		limiter := ratelimit.New(sweepInterval)
		defer limiter.Close()

		pool := worker.New(4, 256, 10*time.Second, log)
		defer pool.Close()

		sessions := session.NewManager(st, c, pool,
			session.WithLogger(log), session.WithTTL(sessionTTL))
		claims := claim.NewManager(st, claim.WithLease(leaseDuration))
		ranker := leaderboard.NewRanker(st, systemReviewer)
		reviews := review.NewService(st, ranker, nil, leaseDuration)

		a := api.New(st, sessions, claims, reviews, ranker, c, limiter, api.WithLogger(log))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/api/v1", a.Router())

		stopSweep := startSessionSweep(sessions, log)
		defer stopSweep()

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		log.Info("server started", "port", port)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			log.Info("shutting down", "signal", sig.String())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// openStore picks Postgres when a DSN is configured, otherwise an embedded
// bbolt database under the data directory.
func openStore(ctx context.Context) (store.Store, func(), error) {
	if postgresDSN != "" {
		st, err := postgres.NewFromDSN(ctx, postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return st, st.Close, nil
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := bboltstore.NewFromFile(dataDir+"/slipway.db", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening bbolt store: %w", err)
	}
	return st, func() {
		if err := st.Close(); err != nil {
			slog.Warn("closing store", "error", err)
		}
	}, nil
}

// openCache picks Redis when an address is configured, otherwise an
// in-process cache.
func openCache(ctx context.Context, log *slog.Logger) (cache.Cache, func(), error) {
	if redisAddr != "" {
		c, err := cache.NewRedis(ctx, redisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting cache: %w", err)
		}
		return c, func() {
			if err := c.Close(); err != nil {
				log.Warn("closing cache", "error", err)
			}
		}, nil
	}
	c := cache.NewMemory(sweepInterval)
	return c, c.Close, nil
}

// startSessionSweep deletes expired sessions on a ticker. Returns a stop
// function that waits for the loop to exit.
func startSessionSweep(sessions *session.Manager, log *slog.Logger) func() {
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(sessionSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				n, err := sessions.SweepExpired(ctx)
				cancel()
				if err != nil {
					log.Warn("session sweep failed", "error", err)
				} else if n > 0 {
					log.Info("swept expired sessions", "count", n)
				}
			case <-stopCh:
				return
			}
		}
	}()
	return func() {
		close(stopCh)
		<-doneCh
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for the embedded database")
	serverCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", os.Getenv("SLIPWAY_POSTGRES_DSN"), "PostgreSQL DSN (overrides the embedded database)")
	serverCmd.Flags().StringVar(&redisAddr, "redis-addr", os.Getenv("SLIPWAY_REDIS_ADDR"), "Redis address for the shared cache (host:port)")
	serverCmd.Flags().DurationVar(&sessionTTL, "session-ttl", session.DefaultTTL, "Session lifetime")
	serverCmd.Flags().DurationVar(&leaseDuration, "lease", claim.DefaultLease, "Claim lease duration")
	serverCmd.Flags().Int64Var(&systemReviewer, "system-reviewer", 0, "User ID of the automation reviewer excluded from the leaderboard")
}
