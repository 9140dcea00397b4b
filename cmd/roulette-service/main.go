package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	commonmw "maproulette/internal/common/http/middleware"
	"maproulette/internal/roulette/app"
	"maproulette/internal/roulette/controller"
	"maproulette/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/roulette_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	roulette, err := app.New(context.Background(), &appCfg.Config)
	if err != nil {
		logger.Error(context.Background(), "init roulette failed", zap.Error(err))
		return
	}
	defer roulette.Close()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if appCfg.Sweeper.Embedded {
		roulette.Sweeper.Start(shutdownCtx)
	}

	httpServer := buildHTTPServer(appCfg, roulette)
	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "roulette http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg *AppConfig, roulette *app.App) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddlewareWithConfig(commonmw.TraceContextConfig{
		AllowUserIDHeader: cfg.Auth.TrustUserHeader,
	}))
	router.Use(requestLogger())

	controller.Register(router, controller.Routes{
		Challenges:      roulette.Challenges,
		Tasks:           roulette.Tasks,
		Stats:           roulette.Stats,
		Sweeper:         roulette.Sweeper,
		Metrics:         roulette.Metrics,
		NearBuffer:      cfg.Roulette.NearBuffer,
		Verifier:        commonmw.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		TrustUserHeader: cfg.Auth.TrustUserHeader,
	})

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
