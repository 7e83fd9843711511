// cmd/decktui — 演示文稿助手的终端前端, 与控制台共用同一个同步引擎。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/multi-agent/deckstudio/internal/app"
	"github.com/multi-agent/deckstudio/internal/config"
	"github.com/multi-agent/deckstudio/internal/tui"
	"github.com/multi-agent/deckstudio/pkg/logger"
)

// Version 构建时通过 ldflags 注入。
var Version = "dev"

func main() {
	open := flag.String("open", "", "启动后打开的演示文稿")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("decktui %s\n", Version)
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	// 终端被 TUI 占用: 日志只写文件, 未配置目录时丢弃
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir, cfg.LogLevel, false); err != nil {
			fmt.Fprintf(os.Stderr, "decktui: log: %v\n", err)
			os.Exit(1)
		}
		defer logger.ShutdownFileHandler()
	} else {
		logger.InitDiscard()
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decktui: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	sub := a.Hub.Subscribe("tui")
	defer a.Hub.Unsubscribe(sub)

	done := a.Start(ctx)

	if *open != "" {
		if _, err := a.Engine.Open(ctx, *open, false); err != nil {
			logger.Error("open presentation failed", logger.FieldPresentation, *open, logger.FieldError, err)
		}
	}

	p := tea.NewProgram(tui.New(a.Engine, sub), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "decktui: %v\n", err)
	}

	stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer stop()
	_ = a.Engine.Close(stopCtx, true)
	if err := a.Engine.Wait(stopCtx); err != nil {
		logger.Warn("timeline snapshot did not finish", logger.FieldError, err)
	}
	cancel()
	<-done
}
