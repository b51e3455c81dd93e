package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/observability"
	"github.com/v0xg/tabmacro/internal/server"
)

var listenAddr string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept scripts from observers over WebSocket",
		Long: `serve starts the observer endpoint. Clients connect to /ws?task=<id>, send
{"action":"executeScript","input":"..."} frames and receive one progress
update per status change. Closing the connection cancels the run.`,
		Args: cobra.NoArgs,
		RunE: serve,
	}
	addSurfaceFlags(cmd)
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Observer listen address (default: from config)")
	return cmd
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Server.ListenAddr = listenAddr
	}
	logger := observability.GetLogger()
	defer observability.Sync()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := server.New(rt.executor, server.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Buffer:         rt.buffer,
		Gatherer:       rt.registry,
		Health: func() gin.H {
			h := gin.H{"surface": surfaceName(rt.bridge != nil), "version": version}
			if rt.bridge != nil {
				client, protocol := rt.bridge.LastHello()
				h["extension"] = gin.H{"connected": rt.bridge.Connected(), "client": client, "protocol": protocol}
			}
			return h
		},
		Logger: logger,
	})

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
		return err
	}
	return <-errCh
}
