package store

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
)

func TestUIPreferenceStore(t *testing.T) {
	pool := getTestPool(t)
	store := NewUIPreferenceStore(pool)
	ctx := context.Background()

	_, _ = pool.Exec(ctx, "DELETE FROM ui_preferences WHERE key LIKE 'test.%'")

	t.Run("Get_NonExistent_NotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "test.nonexistent")
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("Set_Overwrite", func(t *testing.T) {
		key := "test.current_view"
		if err := store.Set(ctx, key, "layouts"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := store.Set(ctx, key, "code"); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got) != `"code"` {
			t.Errorf("got %s, want \"code\"", got)
		}
	})

	t.Run("GetAll", func(t *testing.T) {
		_ = store.Set(ctx, "test.all.1", 1)
		_ = store.Set(ctx, "test.all.2", map[string]any{"a": true})

		all, err := store.GetAll(ctx)
		if err != nil {
			t.Fatalf("get all: %v", err)
		}
		if all["test.all.1"].(float64) != 1 {
			t.Errorf("test.all.1 = %v", all["test.all.1"])
		}
		if m, ok := all["test.all.2"].(map[string]any); !ok || m["a"] != true {
			t.Errorf("test.all.2 = %v", all["test.all.2"])
		}
	})
}
