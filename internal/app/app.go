// Package app 组装 deckstudio 的运行时依赖, 供 cmd/deckstudio 与 cmd/decktui 共用。
package app

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/deckstudio/internal/backend"
	"github.com/multi-agent/deckstudio/internal/config"
	"github.com/multi-agent/deckstudio/internal/database"
	"github.com/multi-agent/deckstudio/internal/engine"
	"github.com/multi-agent/deckstudio/internal/filewatch"
	"github.com/multi-agent/deckstudio/internal/hub"
	"github.com/multi-agent/deckstudio/internal/prefs"
	"github.com/multi-agent/deckstudio/internal/store"
	"github.com/multi-agent/deckstudio/internal/timeline"
	"github.com/multi-agent/deckstudio/migrations"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
	"github.com/multi-agent/deckstudio/pkg/util"
)

var (
	_ engine.Backend       = (*backend.Client)(nil)
	_ engine.FileWatcher   = (*filewatch.Watcher)(nil)
	_ engine.SnapshotSaver = (*store.TimelineSnapshotStore)(nil)
	_ prefs.Port           = (*store.UIPreferenceStore)(nil)
	_ prefs.Port           = prefs.BackendPort{}
)

// App 一次运行的全部组件。
type App struct {
	Config  *config.Config
	Client  *backend.Client
	Hub     *hub.Hub
	Engine  *engine.Engine
	pool    *pgxpool.Pool
	watcher *filewatch.Watcher
}

// New 按配置建立后端客户端、偏好存储、快照存储与文件监听。
// 连接池或监听器初始化失败时已创建的资源会被释放。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config: cfg,
		Client: backend.NewClient(cfg.BackendURL, cfg.BackendTimeout),
		Hub:    hub.New(cfg.HubQueueSize),
	}

	if cfg.UsesPostgres() {
		if err := a.openPostgres(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	var port prefs.Port
	switch cfg.PrefsStore {
	case config.PrefsPostgres:
		port = store.NewUIPreferenceStore(a.pool)
	case config.PrefsBackend:
		port = prefs.BackendPort{Client: a.Client}
	}
	logger.Info("preferences store selected", logger.FieldComponent, cfg.PrefsStore)

	a.Engine = engine.New(a.Client, prefs.NewManager(port), a.Hub, engine.Options{
		ToolOutputLimit: cfg.ToolOutputLimit,
		DefaultFile:     cfg.DefaultFile,
		Resolver:        timeline.PrefixResolver(cfg.ImageURLPrefix),
		WorkspaceRoot:   cfg.WorkspaceRoot,
	})

	if cfg.SnapshotOnClose && a.pool != nil {
		a.Engine.WithSnapshots(store.NewTimelineSnapshotStore(a.pool))
	}

	if cfg.WatchEnabled && cfg.WorkspaceRoot != "" {
		w, err := filewatch.New(cfg.WatchDebounce)
		if err != nil {
			// 外部修改检测是附加功能, 失败时降级
			logger.Warn("file watcher unavailable", logger.FieldError, err)
		} else {
			a.watcher = w
			a.Engine.WithWatcher(w)
		}
	}
	return a, nil
}

func (a *App) openPostgres(ctx context.Context) error {
	if a.Config.PostgresConnStr == "" {
		return apperrors.New("app.New", "POSTGRES_CONNECTION_STRING is required for the postgres preference store")
	}
	pool, err := database.NewPool(ctx, a.Config)
	if err != nil {
		return err
	}
	a.pool = pool

	if dir := a.Config.MigrationsDir; dir != "" && dirExists(dir) {
		err = database.MigrateDir(ctx, pool, dir)
	} else {
		err = database.Migrate(ctx, pool, migrations.FS)
	}
	if err != nil {
		return apperrors.Wrap(err, "app.New", "migrate")
	}
	return nil
}

// Start 在后台读取后端事件流并驱动引擎, 返回的通道在两者都退出后关闭。
func (a *App) Start(ctx context.Context) <-chan struct{} {
	events := make(chan backend.RawEvent, a.Config.EventBufferEvents)
	streamDone := util.SafeGo("backend.stream", func() {
		err := a.Client.Stream(ctx, events, backend.StreamOptions{
			Reconnect: a.Config.EventReconnect,
			OnState:   a.Engine.SetConnected,
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("event stream stopped", logger.FieldError, err)
		}
	})
	runDone := util.SafeGo("engine.run", func() {
		if err := a.Engine.Run(ctx, events); err != nil && ctx.Err() == nil {
			logger.Error("engine stopped", logger.FieldError, err)
		}
	})

	done := make(chan struct{})
	go func() {
		<-streamDone
		<-runDone
		close(done)
	}()
	return done
}

// Close 释放连接池与文件监听。
func (a *App) Close() {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			logger.Warn("close file watcher", logger.FieldError, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
