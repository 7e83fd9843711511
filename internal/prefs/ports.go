package prefs

import (
	"context"
	"encoding/json"

	"github.com/multi-agent/deckstudio/internal/backend"
)

// BackendPort 通过 deck 后端的 /api/preferences/{key} 读写。
// PostgreSQL 端直接使用 store.UIPreferenceStore。
type BackendPort struct {
	Client *backend.Client
}

func (p BackendPort) Get(ctx context.Context, key string) (json.RawMessage, error) {
	return p.Client.GetPreference(ctx, key)
}

func (p BackendPort) Set(ctx context.Context, key string, value any) error {
	return p.Client.SetPreference(ctx, key, value)
}
