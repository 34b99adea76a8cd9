package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"drawing-board/internal/admission"
	"drawing-board/internal/canvas"
	"drawing-board/internal/config"
	"drawing-board/internal/identity"
	"drawing-board/internal/presence"
	"drawing-board/internal/relay"
	"drawing-board/internal/store"
)

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

// requestLogger logs every request once it has been served. WebSocket
// requests are logged when the session ends.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.String("client", c.ClientIP()),
			slog.Duration("took", time.Since(start)),
		)
	}
}

func newRouter(logger *slog.Logger, hub *relay.Hub, staticDir string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	hub.Mount(r)

	// Serve static files
	r.Static("/static", staticDir)

	// Serve index.html at root
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(staticDir, "index.html"))
	})

	return r
}

// doMain runs the board until ctx is done, then persists the canvas.
func doMain(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	st, err := store.Open(ctx, cfg.CanvasStore)
	if err != nil {
		return fmt.Errorf("open canvas store: %w", err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer st.Close()

	return serve(ctx, logger, cfg, st)
}

// serve runs the relay against st. A failed final persist is logged and
// does not change the result.
func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config, st store.Store) error {
	board := canvas.New(cfg.CanvasSize, cfg.MaxBrushSize, nil)
	if err := board.Load(ctx, st); err != nil {
		return err
	}
	logger.Info("canvas loaded", slog.String("store", cfg.CanvasStore), slog.Int("size", cfg.CanvasSize), slog.Uint64("revision", board.Revision()))

	gate := admission.New(cfg.DrawCeiling, cfg.DrawResetInterval, nil)
	gate.Start(ctx)
	defer gate.Stop()

	var provider identity.Provider
	if cfg.TwitchClientID != "" {
		provider = identity.NewTwitchProvider(cfg.TwitchClientID, cfg.TwitchAPIURL)
	}

	hub := relay.NewHub(relay.Options{
		Logger:     logger,
		Registry:   presence.NewRegistry(),
		Admission:  gate,
		Canvas:     board,
		Resolver:   identity.NewResolver(provider),
		CursorRate: cfg.CursorRate,
		Origins:    cfg.Origins,
	})

	// The hub outlives the signal so sessions are closed only after the
	// listener has stopped accepting new ones.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hc := make(chan error, 1)
	go func() { hc <- hub.Run(hubCtx) }()

	saveCtx, stopAutosave := context.WithCancel(ctx)
	autosaved := make(chan struct{})
	go func() {
		defer close(autosaved)
		board.Autosave(saveCtx, logger, st, cfg.AutosaveInterval, cfg.PersistTimeout)
	}()

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: newRouter(logger, hub, cfg.StaticDir),
	}

	ec := make(chan error, 1)
	go func() {
		logger.Info("starting...", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ec <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Warn("shutdown signal")
	case err := <-ec:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-hc:
		runErr = err
		if runErr == nil {
			runErr = errors.New("relay stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PersistTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("err", err))
	}
	cancel()

	stopHub()
	<-hub.Done()
	stopAutosave()
	<-autosaved
	gate.Stop()

	persistCtx, cancel := context.WithTimeout(context.Background(), cfg.PersistTimeout)
	defer cancel()
	start := time.Now()
	if err := board.Persist(persistCtx, st); err != nil {
		logger.Error("failed to persist canvas", slog.Any("err", err))
	} else {
		logger.Info("canvas persisted", slog.Uint64("revision", board.Revision()), slog.Duration("took", time.Since(start)))
	}

	return runErr
}

func main() {
	bootstrap := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(context.Background())
	if err != nil {
		bootstrap.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		bootstrap.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = doMain(ctx, logger, cfg)
	stop()
	if err != nil {
		logger.Error("exiting", slog.Any("err", err))
		os.Exit(1)
	}
}
