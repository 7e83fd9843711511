// cmd/deckstudio — 演示文稿助手控制台: 同步后端事件流, 通过 HTTP/SSE/WebSocket 提供 timeline。
//
// 启动:
//
//	deckstudio -listen 127.0.0.1:8090 -open my-deck
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/deckstudio/internal/app"
	"github.com/multi-agent/deckstudio/internal/config"
	"github.com/multi-agent/deckstudio/internal/httpapi"
	"github.com/multi-agent/deckstudio/pkg/logger"
	"github.com/multi-agent/deckstudio/pkg/util"
)

func main() {
	listen := flag.String("listen", "", "HTTP 监听地址 (默认 DECK_LISTEN_ADDR)")
	open := flag.String("open", "", "启动后打开的演示文稿")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir, cfg.LogLevel, true); err != nil {
			logger.Fatal("log init failed", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	} else {
		logger.InitLevel(cfg.LogEnv, cfg.LogLevel)
	}
	if cfg.LogEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	addr := util.FirstNonEmpty(*listen, cfg.ListenAddr)

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("startup failed", logger.FieldError, err)
	}
	defer a.Close()

	done := a.Start(ctx)

	if *open != "" {
		res, err := a.Engine.Open(ctx, *open, false)
		if err != nil {
			logger.Error("open presentation failed", logger.FieldPresentation, *open, logger.FieldError, err)
		} else {
			logger.Info("presentation opened",
				logger.FieldPresentation, res.Presentation,
				logger.FieldEpoch, res.Epoch,
				logger.FieldCount, res.Replay.Applied,
			)
		}
	}

	srv := httpapi.NewServer(a.Engine, httpapi.Options{StaticDir: cfg.StaticDir})
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	util.SafeGo("httpapi", func() {
		logger.Infow("deckstudio starting", logger.FieldAddr, addr, logger.FieldURL, cfg.BackendURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", logger.FieldError, err)
			cancel()
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logger.FieldError, err)
	}
	// 关闭演示文稿以触发快照, 等快照写完再关闭连接池
	if err := a.Engine.Close(shutdownCtx, true); err != nil {
		logger.Debug("close presentation", logger.FieldError, err)
	}
	if err := a.Engine.Wait(shutdownCtx); err != nil {
		logger.Warn("timeline snapshot did not finish", logger.FieldError, err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("background workers did not stop in time")
	}
}
