package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/deckstudio/internal/timeline"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
)

// TimelineSnapshot 关闭演示文稿时落库的 timeline 副本, 用于排查渲染问题。
type TimelineSnapshot struct {
	ID           int64            `json:"id"`
	Presentation string           `json:"presentation"`
	Epoch        uint64           `json:"epoch"`
	Revision     uint64           `json:"revision"`
	EntryCount   int              `json:"entryCount"`
	State        timeline.State   `json:"state"`
	Entries      []timeline.Entry `json:"entries"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// TimelineSnapshotStore timeline_snapshots 表。
type TimelineSnapshotStore struct {
	pool *pgxpool.Pool
}

func NewTimelineSnapshotStore(pool *pgxpool.Pool) *TimelineSnapshotStore {
	return &TimelineSnapshotStore{pool: pool}
}

// Save 写入一份快照, 返回自增 ID。
func (s *TimelineSnapshotStore) Save(ctx context.Context, state timeline.State, entries []timeline.Entry) (int64, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return 0, apperrors.Wrap(err, "TimelineSnapshotStore.Save", "marshal state")
	}
	if entries == nil {
		entries = []timeline.Entry{}
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return 0, apperrors.Wrap(err, "TimelineSnapshotStore.Save", "marshal entries")
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO timeline_snapshots (presentation, epoch, revision, entry_count, state, entries)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, state.Presentation, int64(state.Epoch), int64(state.Revision), len(entries), stateJSON, entriesJSON).Scan(&id)
	if err != nil {
		return 0, apperrors.Wrap(err, "TimelineSnapshotStore.Save", "insert snapshot")
	}
	return id, nil
}

// Latest 某演示文稿最近的 limit 份快照 (新→旧)。
func (s *TimelineSnapshotStore) Latest(ctx context.Context, presentation string, limit int) ([]TimelineSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, presentation, epoch, revision, entry_count, state, entries, created_at
		FROM timeline_snapshots
		WHERE presentation = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, presentation, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "TimelineSnapshotStore.Latest", "query snapshots")
	}
	defer rows.Close()

	var out []TimelineSnapshot
	for rows.Next() {
		var (
			snap            TimelineSnapshot
			epoch, revision int64
			stateJSON       []byte
			entriesJSON     []byte
		)
		if err := rows.Scan(&snap.ID, &snap.Presentation, &epoch, &revision, &snap.EntryCount,
			&stateJSON, &entriesJSON, &snap.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "TimelineSnapshotStore.Latest", "scan snapshot")
		}
		snap.Epoch = uint64(epoch)
		snap.Revision = uint64(revision)
		if err := json.Unmarshal(stateJSON, &snap.State); err != nil {
			return nil, apperrors.Wrap(err, "TimelineSnapshotStore.Latest", "unmarshal state")
		}
		if err := json.Unmarshal(entriesJSON, &snap.Entries); err != nil {
			return nil, apperrors.Wrap(err, "TimelineSnapshotStore.Latest", "unmarshal entries")
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "TimelineSnapshotStore.Latest", "iterate snapshots")
	}
	return out, nil
}
