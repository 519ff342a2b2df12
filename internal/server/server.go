package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/glance/config"
	"github.com/mohammad-safakhou/glance/internal/copilot"
	"github.com/mohammad-safakhou/glance/internal/store"
	"github.com/mohammad-safakhou/glance/internal/telemetry"
	"github.com/mohammad-safakhou/glance/provider"
	"github.com/mohammad-safakhou/glance/session"
)

// Run wires the full service and blocks serving HTTP.
func Run(cfg *config.Config) error {
	e := newEcho()

	ctx := context.Background()
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	sessions, err := session.NewStore(ctx, cfg.Session)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	prov, err := provider.NewProvider(cfg.LLM, tele)
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	var opts []copilot.Option
	var st *store.Store
	if cfg.Storage.Postgres.Host != "" || cfg.Storage.Postgres.URL != "" {
		st, err = store.NewFromConfig(ctx, cfg.Storage.Postgres)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		opts = append(opts, copilot.WithStore(st))
	}
	cop := copilot.New(*cfg, sessions, prov, tele, opts...)

	api := e.Group("/api")
	ch := &CopilotHandler{Copilot: cop}
	ch.Register(api)
	if st != nil {
		rh := &RunsHandler{Store: st}
		rh.Register(api)
	}

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10001"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho builds the engine with the shared middleware and error handling.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
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
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
