package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/inkflow-ai/inkflow/capability"
	"github.com/inkflow-ai/inkflow/config"
	"github.com/inkflow-ai/inkflow/engine"
	"github.com/inkflow-ai/inkflow/hitl"
	"github.com/inkflow-ai/inkflow/logging"
	"github.com/inkflow-ai/inkflow/model"
	"github.com/inkflow-ai/inkflow/model/anthropic"
	"github.com/inkflow-ai/inkflow/model/openai"
	"github.com/inkflow-ai/inkflow/planner"
	"github.com/inkflow-ai/inkflow/policy"
	"github.com/inkflow-ai/inkflow/resume"
	"github.com/inkflow-ai/inkflow/stream"
)

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging)
	logger.Info("starting", "app", appName, "version", version, "addr", cfg.Server.Addr)

	m := buildModel(cfg.Model)
	store, err := buildStore(cfg.Resume)
	if err != nil {
		return err
	}
	policies, err := loadPolicies(cfg.Engine.PolicyFile)
	if err != nil {
		return err
	}

	registry := capability.NewRegistry()
	if err := registerDefaultCapabilities(registry, m); err != nil {
		return err
	}

	pl, err := planner.NewLLMPlanner(m, planner.WithCapabilities(registry.Names()...))
	if err != nil {
		return err
	}

	eng, err := engine.New(func(o *engine.Options) {
		o.Registry = registry
		o.Planner = pl
		o.Policies = policies
		o.ResumeStore = store
		o.Logger = logger
		o.MaxSteps = cfg.Engine.MaxSteps
		o.FailOnDeny = cfg.Engine.FailOnDeny
	})
	if err != nil {
		return err
	}

	backlog := stream.NewBacklog(cfg.Server.BacklogLimit, cfg.Server.RetryAfter)
	handler := stream.NewHandler(eng, backlog, func(o *stream.HandlerOptions) {
		o.Heartbeat = cfg.Server.Heartbeat
		o.Logger = logger
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	v1 := e.Group("/v1")
	handler.Register(v1)
	registerHITLRoutes(v1, eng)

	errCh := make(chan error, 1)
	go func() {
		if serr := e.Start(cfg.Server.Addr); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case serr := <-errCh:
		return fmt.Errorf("server failed: %w", serr)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(ctx)
}

func buildLogger(cfg config.LoggingConfig) *logging.RunLogger {
	level := logging.LogLevelInfo
	switch cfg.Level {
	case "debug":
		level = logging.LogLevelDebug
	case "warn":
		level = logging.LogLevelWarn
	case "error":
		level = logging.LogLevelError
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Format,
		Output:    os.Stdout,
		Component: appName,
	})
}

func buildModel(cfg config.ModelConfig) model.Model {
	switch cfg.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
		})
	case "mock":
		return model.NewMockModel("mock")
	default:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
		})
	}
}

func buildStore(cfg config.ResumeConfig) (resume.Store, error) {
	if cfg.Store == "sqlite" {
		return resume.NewSQLiteStore(cfg.Path)
	}
	return resume.NewInMemoryStore(), nil
}

func loadPolicies(path string) ([]policy.Policy, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %q: %w", path, err)
	}
	return policy.Load(data)
}

// registerDefaultCapabilities wires the built-in content generation
// capabilities: strategy, generation and quality assurance, each backed by
// a model call.
func registerDefaultCapabilities(registry *capability.Registry, m model.Model) error {
	strategy, err := capability.NewModelCapability(m, capability.ModelOptions{
		Instructions: "Devise a content strategy for the objective. Respond with a JSON object" +
			` whose "strategy" key holds the angle, audience and key messages.`,
		ForceJSON: true,
	})
	if err != nil {
		return err
	}
	if err := registry.Register(capability.Registration{
		Name:    "strategy",
		Outputs: []string{"strategy"},
		Guards:  []capability.GuardSpec{{Facet: "strategy", Path: "strategy", Cond: `strategy != null`}},
		Handler: strategy,
	}); err != nil {
		return err
	}

	generate, err := capability.NewModelCapability(m, capability.ModelOptions{
		Instructions: "Write the content described by the objective, following the strategy facet when present.",
		OutputFacet:  "copy",
	})
	if err != nil {
		return err
	}
	if err := registry.Register(capability.Registration{
		Name:    "generate",
		Inputs:  []string{"brief", "strategy", "copy"},
		Outputs: []string{"copy"},
		Guards:  []capability.GuardSpec{{Facet: "copy", Path: "copy", Cond: `copy != ""`}},
		Handler: generate,
	}); err != nil {
		return err
	}

	qa, err := capability.NewModelCapability(m, capability.ModelOptions{
		Instructions: "Assess the copy facet for quality. Respond with a JSON object" +
			` whose "qa" key holds a "score" between 0 and 1 and a "verdict".`,
		ForceJSON: true,
	})
	if err != nil {
		return err
	}
	return registry.Register(capability.Registration{
		Name:    "qa",
		Inputs:  []string{"copy", "brief"},
		Outputs: []string{"qa"},
		Guards: []capability.GuardSpec{
			{Facet: "qa", Path: "qa.score", Cond: `qa.score >= 0 && qa.score <= 1`},
		},
		Handler: qa,
	})
}

// registerHITLRoutes mounts the request decision endpoints: the narrow
// command surface through which humans act on suspended runs.
func registerHITLRoutes(g *echo.Group, eng *engine.Engine) {
	g.GET("/hitl/:id", func(c echo.Context) error {
		req, err := eng.Gate().Get(c.Param("id"))
		if err != nil {
			return hitlError(c, err)
		}
		return c.JSON(http.StatusOK, req)
	})

	g.POST("/hitl/:id/resolve", func(c echo.Context) error {
		var resp hitl.Response
		if err := c.Bind(&resp); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		}
		if err := eng.ResolveHITL(c.Param("id"), resp); err != nil {
			return hitlError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"status": string(hitl.StatusResolved)})
	})

	g.POST("/hitl/:id/deny", func(c echo.Context) error {
		var body struct {
			Reason string `json:"reason"`
		}
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		}
		if err := eng.DenyHITL(c.Param("id"), body.Reason); err != nil {
			return hitlError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"status": string(hitl.StatusDenied)})
	})
}

func hitlError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hitl.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hitl.ErrNotPending):
		status = http.StatusConflict
	}
	return c.JSON(status, map[string]any{"error": err.Error()})
}
