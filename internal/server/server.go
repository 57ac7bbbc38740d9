// Package server wires the HTTP and WebSocket surface: auth, session
// history, artifact downloads, health and metrics, and the stream
// endpoint that drives turns.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parallaxsearch/parallax/config"
	"github.com/parallaxsearch/parallax/internal/agent/core"
	"github.com/parallaxsearch/parallax/internal/agent/subagent"
	"github.com/parallaxsearch/parallax/internal/agent/telemetry"
	"github.com/parallaxsearch/parallax/internal/artifact"
	"github.com/parallaxsearch/parallax/internal/runtime"
	"github.com/parallaxsearch/parallax/internal/store"
	"github.com/parallaxsearch/parallax/internal/stream"
	"github.com/parallaxsearch/parallax/internal/tools"
	"github.com/parallaxsearch/parallax/internal/tools/webfetch"
	"github.com/parallaxsearch/parallax/internal/tools/websearch"
	"github.com/parallaxsearch/parallax/provider"
)

// Run builds every component from config and serves until the listener
// fails or ctx ends.
func Run(ctx context.Context, cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Storage: Postgres when configured, otherwise in-memory.
	var turns store.TurnStore
	var pg *store.Store
	dsn, err := cfg.Storage.Postgres.DSN()
	if err == nil && dsn != "" {
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pg, err = store.NewWithDSN(ctx, dsn)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		turns = pg
	} else {
		baseLogger.Printf("postgres not configured, using in-memory turn store")
		turns = store.NewMemoryStore()
	}

	var locker store.SessionLocker = store.NoopLocker{}
	if cfg.Storage.Redis.Enabled() {
		rdb, err := store.NewRedis(ctx, cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Pass, cfg.Storage.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		locker = store.NewRedisLocker(rdb)
	}

	// Tool registry and adapters.
	llmProvider, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	registry := tools.NewRegistry(cfg.Tools.WebSearch.Timeout, cfg.Tools.RatePerMinute)
	registry.Register(tools.NewLLMAdapter(llmProvider))
	if search, err := websearch.NewAdapter(cfg.Tools.WebSearch); err != nil {
		baseLogger.Printf("web search disabled: %v", err)
	} else {
		registry.Register(search)
	}
	registry.Register(webfetch.NewAdapter(cfg.Tools.WebFetch))
	registry.Register(subagent.NewSentimentComparer(registry,
		cfg.LLM.Routing.Model("analysis"), cfg.Orchestrator.SubAgentCeiling))

	artifactStore, err := artifact.NewFSStore(cfg.Artifacts.DataDir)
	if err != nil {
		return err
	}
	artifacts := artifact.NewManager(artifactStore, nil)

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	engine := core.NewEngine(cfg.Orchestrator, cfg.LLM.Routing, tele, registry, artifacts)

	// Stream surface.
	streamLogger := log.New(log.Writer(), "[STREAM] ", log.LstdFlags)
	hub := stream.NewHub(cfg.Stream.SendBuffer, streamLogger)
	go hub.Run()

	manager := stream.NewManager(cfg.Stream, engine, turns, locker, func(sessionID string, event core.Event) {
		if err := hub.BroadcastJSON(sessionID, event); err != nil {
			streamLogger.Printf("broadcasting event: %v", err)
		}
	}, streamLogger)
	if pg != nil {
		manager.SetPruner(pg)
	}
	go func() {
		if err := manager.RunJanitor(ctx); err != nil && ctx.Err() == nil {
			streamLogger.Printf("janitor stopped: %v", err)
		}
	}()

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	verify := func(token string) (string, error) { return runtime.VerifyJWT(token, secret) }
	ws := stream.NewServer(cfg.Stream, hub, manager, verify, streamLogger)
	e.GET("/ws", ws.HandleWebSocket)

	// REST surface.
	api := e.Group("/api")
	if pg != nil {
		auth := &AuthHandler{Store: pg, Secret: secret}
		auth.Register(api.Group("/auth"))
	}

	protected := api.Group("")
	protected.Use(runtime.EchoAuthMiddleware(secret))
	th := &TurnsHandler{Turns: turns}
	th.Register(protected)
	protected.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"user_id": c.Get("user_id").(string)})
	})

	e.Static("/artifacts", cfg.Artifacts.DataDir)

	return e.Start(cfg.Server.Address)
}
