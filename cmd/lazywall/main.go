package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/lazywall/internal/catalog"
	"github.com/Sternrassler/lazywall/internal/config"
	"github.com/Sternrassler/lazywall/internal/gallery"
	"github.com/Sternrassler/lazywall/internal/loaders"
	"github.com/Sternrassler/lazywall/pkg/client"
	"github.com/Sternrassler/lazywall/pkg/eventloop"
	"github.com/Sternrassler/lazywall/pkg/logging"
	"github.com/Sternrassler/lazywall/pkg/metrics"
	"github.com/Sternrassler/lazywall/pkg/pagination"
	"github.com/Sternrassler/lazywall/pkg/resource"
	"github.com/Sternrassler/lazywall/pkg/wall"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := loadConfig(getEnv("LAZYWALL_CONFIG", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "lazywall: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatal().Err(err).Msg("lazywall failed")
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	source, fetcher, closers, err := buildTransport(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	loop := eventloop.New(256)
	w, err := wall.New(loop, source, fetcher, cfg.Wall(), logging.NewLogger("wall"))
	if err != nil {
		return fmt.Errorf("create wall: %w", err)
	}

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(loopCtx) }()

	var startErr error
	if err := loop.Call(ctx, func() { startErr = w.Start() }); err != nil {
		cancelLoop()
		return err
	}
	if startErr != nil {
		cancelLoop()
		return fmt.Errorf("start wall: %w", startErr)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newServer(loop, w, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Listen).
			Str("source", cfg.Source.Kind).
			Str("user_agent", cfg.UserAgent).
			Msg("Starting lazywall server")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			cancelLoop()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	loop.Call(shutdownCtx, w.Close) //nolint:errcheck
	cancelLoop()
	<-loopDone
	return nil
}

// buildTransport selects the listing source and the resource loaders.
func buildTransport(ctx context.Context, cfg config.Config, redisClient *redis.Client, logger zerolog.Logger) (pagination.Source, resource.Fetcher, []io.Closer, error) {
	var closers []io.Closer

	// The HTTP client loads http(s) images for every source kind. Image
	// locators are absolute, so the base URL only matters for listings.
	base := cfg.Source.URL
	if base == "" {
		base = "http://localhost"
	}
	ccfg := client.DefaultConfig(base, cfg.UserAgent)
	ccfg.Redis = redisClient
	httpClient, err := client.New(ccfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create client: %w", err)
	}
	closers = append(closers, httpClient)

	router := loaders.NewRouter()
	router.Handle("http", httpClient)
	router.Handle("https", httpClient)

	if cfg.Source.ImagesDir != "" {
		files, err := loaders.OpenDir(ctx, cfg.Source.ImagesDir)
		if err != nil {
			return nil, nil, closers, err
		}
		closers = append(closers, files)
		router.Handle("file", files)
	}

	var source pagination.Source
	switch cfg.Source.Kind {
	case config.SourceHTTP:
		source = httpClient
	case config.SourceSQLite:
		store, err := catalog.Open(ctx, cfg.Source.Path)
		if err != nil {
			return nil, nil, closers, fmt.Errorf("open catalog: %w", err)
		}
		store.SetFirstPage(cfg.InitialPage)
		closers = append(closers, store)
		source = store
	case config.SourceHTML:
		src, err := gallery.New(cfg.Source.URL, cfg.UserAgent, logger)
		if err != nil {
			return nil, nil, closers, fmt.Errorf("create gallery source: %w", err)
		}
		source = src
	default:
		return nil, nil, closers, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}

	return source, router, closers, nil
}

// caller runs a function on the event loop.
type caller interface {
	Call(ctx context.Context, fn func()) error
}

type server struct {
	loop   caller
	wall   *wall.Wall
	logger zerolog.Logger
}

func newServer(loop caller, w *wall.Wall, logger zerolog.Logger) *server {
	return &server{loop: loop, wall: w, logger: logger.With().Str("component", "http").Logger()}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /snapshot", s.snapshotHandler)
	mux.HandleFunc("POST /scroll", s.scrollHandler)
	mux.HandleFunc("POST /retry", s.retryHandler)
	mux.HandleFunc("POST /reset", s.resetHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	s.respondSnapshot(w, r)
}

func (s *server) scrollHandler(w http.ResponseWriter, r *http.Request) {
	y, err := strconv.ParseFloat(r.URL.Query().Get("y"), 64)
	if err != nil || y < 0 {
		http.Error(w, "y must be a non-negative number", http.StatusBadRequest)
		return
	}
	if err := s.loop.Call(r.Context(), func() { s.wall.ScrollTo(y) }); err != nil {
		s.loopError(w, err)
		return
	}
	s.respondSnapshot(w, r)
}

func (s *server) retryHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	var retryErr error
	if err := s.loop.Call(r.Context(), func() { retryErr = s.wall.RequestManualRetry(id) }); err != nil {
		s.loopError(w, err)
		return
	}
	switch {
	case retryErr == nil:
	case errors.Is(retryErr, resource.ErrNotFound):
		http.Error(w, retryErr.Error(), http.StatusNotFound)
		return
	case errors.Is(retryErr, resource.ErrInvalidTransition):
		http.Error(w, retryErr.Error(), http.StatusConflict)
		return
	default:
		s.loopError(w, retryErr)
		return
	}
	s.respondSnapshot(w, r)
}

func (s *server) resetHandler(w http.ResponseWriter, r *http.Request) {
	var resetErr error
	if err := s.loop.Call(r.Context(), func() { resetErr = s.wall.RequestCoordinatorReset() }); err != nil {
		s.loopError(w, err)
		return
	}
	if resetErr != nil {
		s.loopError(w, resetErr)
		return
	}
	s.respondSnapshot(w, r)
}

func (s *server) respondSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap wall.Snapshot
	if err := s.loop.Call(r.Context(), func() { snap = s.wall.Snapshot() }); err != nil {
		s.loopError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write snapshot")
	}
}

func (s *server) loopError(w http.ResponseWriter, err error) {
	s.logger.Warn().Err(err).Msg("Request could not reach the wall")
	http.Error(w, err.Error(), http.StatusServiceUnavailable)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
