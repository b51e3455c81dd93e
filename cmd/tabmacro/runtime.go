package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/bridge"
	"github.com/v0xg/tabmacro/internal/browser"
	"github.com/v0xg/tabmacro/internal/config"
	"github.com/v0xg/tabmacro/internal/content"
	"github.com/v0xg/tabmacro/internal/executor"
	"github.com/v0xg/tabmacro/internal/fetch"
	"github.com/v0xg/tabmacro/internal/llm"
	"github.com/v0xg/tabmacro/internal/performer"
)

// runtime is everything a command needs to execute scripts
type runtime struct {
	executor  *executor.Executor
	buffer    *content.Buffer
	performer performer.Performer
	bridge    *bridge.Bridge // nil when driving a local browser
	registry  *prometheus.Registry
	close     func()
}

func newRuntime(cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{
		buffer:   content.NewBuffer(cfg.Content.MaxTasks, cfg.Content.MaxItems),
		registry: prometheus.NewRegistry(),
		close:    func() {},
	}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.Bridge.Enabled {
		b := bridge.New(bridge.Config{
			ListenAddr: cfg.Bridge.ListenAddr,
			Token:      cfg.Bridge.Token,
			Timeout:    cfg.Bridge.Timeout,
			Logger:     logger,
		})
		if err := b.Start(); err != nil {
			return nil, fmt.Errorf("extension bridge failed: %w", err)
		}
		rt.performer, rt.bridge = b, b
		rt.close = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = b.Close(ctx)
		}
	} else {
		br, err := browser.Launch(browser.Options{
			Width:       cfg.Browser.Width,
			Height:      cfg.Browser.Height,
			Headless:    cfg.Browser.Headless,
			Bin:         cfg.Browser.Bin,
			ProfileDir:  cfg.Browser.ProfileDir,
			IdleTimeout: cfg.Browser.IdleTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("browser launch failed: %w", err)
		}
		rt.performer = br
		rt.close = br.Close
	}

	opts := []executor.Option{
		executor.WithLogger(logger),
		executor.WithFetcher(fetch.NewClient(cfg.Fetch.Timeout, cfg.Fetch.UserAgent)),
		executor.WithCredentials(credentialStore(cfg.Credentials)),
		executor.WithStepInterval(cfg.Executor.StepInterval),
		executor.WithStepTimeout(cfg.Executor.StepTimeout),
		executor.WithLoopLimit(cfg.Executor.LoopLimit),
		executor.WithMetrics(executor.MustNewMetrics(rt.registry)),
	}

	// Scripts without infer run fine without a model, so a missing key is not fatal here
	querier, err := llm.NewProvider(llm.Options{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		APIKey:    cfg.LLM.APIKey,
	})
	if err != nil {
		logger.Warn("Language model unavailable; infer steps will fail", zap.Error(err))
	} else {
		opts = append(opts, executor.WithQuerier(querier))
	}

	rt.executor = executor.New(rt.performer, opts...)
	return rt, nil
}

func credentialStore(creds []config.Credential) executor.StaticCredentials {
	store := make(executor.StaticCredentials, len(creds))
	for _, c := range creds {
		store[c.Host] = executor.Credentials{Username: c.Username, Password: c.Password}
	}
	return store
}
