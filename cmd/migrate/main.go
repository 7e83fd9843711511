// cmd/migrate — 对 POSTGRES_CONNECTION_STRING 指向的库执行 deckstudio 迁移。
//
// 默认使用内嵌的迁移脚本; -dir 指定目录时改用磁盘上的脚本。
// -snapshots <presentation> 列出最近保存的 timeline 快照。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/multi-agent/deckstudio/internal/config"
	"github.com/multi-agent/deckstudio/internal/database"
	"github.com/multi-agent/deckstudio/internal/store"
	"github.com/multi-agent/deckstudio/migrations"
)

func main() {
	dir := flag.String("dir", "", "migrations directory (default: embedded)")
	snapshots := flag.String("snapshots", "", "list recent timeline snapshots of a presentation and exit")
	limit := flag.Int("limit", 10, "number of snapshots to list")
	flag.Parse()

	cfg := config.Load()
	if cfg.PostgresConnStr == "" {
		fmt.Println("POSTGRES_CONNECTION_STRING not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *dir != "" {
		err = database.MigrateDir(ctx, pool, *dir)
	} else {
		err = database.Migrate(ctx, pool, migrations.FS)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migration complete.")

	if *snapshots == "" {
		return
	}
	list, err := store.NewTimelineSnapshotStore(pool).Latest(ctx, *snapshots, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List snapshots: %v\n", err)
		os.Exit(1)
	}
	for _, s := range list {
		fmt.Printf("%d\tepoch=%d\trevision=%d\tentries=%d\t%s\n",
			s.ID, s.Epoch, s.Revision, s.EntryCount, s.CreatedAt.Format(time.RFC3339))
	}
}
