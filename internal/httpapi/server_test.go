package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/deckstudio/internal/backend"
	"github.com/multi-agent/deckstudio/internal/engine"
	"github.com/multi-agent/deckstudio/internal/hub"
	"github.com/multi-agent/deckstudio/internal/timeline"
)

// deckBackend 最小的 deck 后端替身。
func deckBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/load", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Loaded","history":[
			{"role":"user","content":"draw a cat"},
			{"message_type":"image_request_details","data":{"batch_slug":"b1","user_message":"a cat"}},
			{"message_type":"image_candidate","data":{"batch_slug":"b1","index":0,"image_path":"/d/images/b1/0.png"}},
			{"message_type":"image_candidate","data":{"batch_slug":"b1","index":1,"image_path":"/d/images/b1/1.png"}}
		]}`))
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"processing"}`))
	})
	mux.HandleFunc("/api/images/select", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"path":"/d/images/cat.png","filename":"cat.png"}`))
	})
	mux.HandleFunc("/api/presentation/files", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"files":[{"name":"deck.marp.md","path":"deck.marp.md","type":"file"}]}`))
	})
	mux.HandleFunc("/api/presentation/file-content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"text","content":"# Deck"}`))
	})
	mux.HandleFunc("/api/presentation/file-save", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"compile":{"success":true}}`))
	})
	mux.HandleFunc("/api/preferences/current_view", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"Preference not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	be := backend.NewClient(deckBackend(t).URL, 2*time.Second)
	eng := engine.New(be, nil, hub.New(64), engine.Options{
		Resolver: timeline.PrefixResolver("/api/serve-image?path="),
	})
	return NewServer(eng, Options{}), eng
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, s *Server, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func TestNoPresentation(t *testing.T) {
	s, _ := newTestServer(t)

	code, env := do(t, s, http.MethodGet, "/api/timeline", nil)
	if code != http.StatusConflict || env.Success || env.Error.Code != "no_presentation" {
		t.Fatalf("timeline = %d %+v", code, env)
	}
	code, env = do(t, s, http.MethodGet, "/api/state", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("state = %d %+v", code, env)
	}
	code, _ = do(t, s, http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	if code != http.StatusConflict {
		t.Fatalf("chat = %d", code)
	}
}

func TestOpenAndTimeline(t *testing.T) {
	s, _ := newTestServer(t)

	if code, env := do(t, s, http.MethodPost, "/api/presentation/open", map[string]any{}); code != http.StatusBadRequest || env.Error.Code != "invalid_request" {
		t.Fatalf("open without name = %d %+v", code, env)
	}
	code, env := do(t, s, http.MethodPost, "/api/presentation/open", map[string]any{"name": "demo"})
	if code != http.StatusOK {
		t.Fatalf("open = %d %+v", code, env)
	}

	code, env = do(t, s, http.MethodGet, "/api/timeline", nil)
	if code != http.StatusOK {
		t.Fatalf("timeline = %d", code)
	}
	var tl struct {
		Epoch   uint64           `json:"epoch"`
		Entries []timeline.Entry `json:"entries"`
	}
	if err := json.Unmarshal(env.Data, &tl); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if tl.Epoch != 1 || len(tl.Entries) != 4 {
		t.Fatalf("timeline = %+v", tl)
	}

	_, env = do(t, s, http.MethodGet, "/api/timeline?after="+jsonID(tl.Entries[1].ID), nil)
	if err := json.Unmarshal(env.Data, &tl); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if len(tl.Entries) != 2 {
		t.Fatalf("after filter = %d entries", len(tl.Entries))
	}
	if code, _ := do(t, s, http.MethodGet, "/api/timeline?after=x", nil); code != http.StatusBadRequest {
		t.Fatalf("bad after = %d", code)
	}
}

func jsonID(id uint64) string {
	data, _ := json.Marshal(id)
	return string(data)
}

func TestSelectImageAndView(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/api/presentation/open", map[string]any{"name": "demo"})

	code, env := do(t, s, http.MethodPost, "/api/images/select", map[string]any{"batch_slug": "b1", "index": 5})
	if code != http.StatusNotFound || env.Error.Code != "unknown_candidate" {
		t.Fatalf("unknown candidate = %d %+v", code, env)
	}
	code, env = do(t, s, http.MethodPost, "/api/images/select", map[string]any{"index": 0})
	if code != http.StatusOK {
		t.Fatalf("select = %d %+v", code, env)
	}

	if code, env := do(t, s, http.MethodPost, "/api/view", map[string]any{"view": "slideshow"}); code != http.StatusBadRequest || env.Error.Code != "invalid_input" {
		t.Fatalf("bad view = %d %+v", code, env)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/view", map[string]any{"view": "layouts"}); code != http.StatusOK {
		t.Fatalf("view = %d", code)
	}
	if code, env := do(t, s, http.MethodPost, "/api/layouts/select", map[string]any{"layout_name": "Title"}); code != http.StatusConflict || env.Error.Code != "no_pending_layout" {
		t.Fatalf("layout = %d %+v", code, env)
	}
}

func TestFileFlow(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/api/presentation/open", map[string]any{"name": "demo"})

	if code, env := do(t, s, http.MethodPost, "/api/file/save", nil); code != http.StatusConflict || env.Error.Code != "no_open_file" {
		t.Fatalf("save closed = %d %+v", code, env)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/file/open", map[string]any{"path": "deck.marp.md"}); code != http.StatusOK {
		t.Fatalf("open file = %d", code)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/file/edit", map[string]any{"content": "# New"}); code != http.StatusOK {
		t.Fatalf("edit = %d", code)
	}
	if code, env := do(t, s, http.MethodPost, "/api/file/open", map[string]any{"path": "other.md"}); code != http.StatusConflict || env.Error.Code != "unsaved_changes" {
		t.Fatalf("open while dirty = %d %+v", code, env)
	}
	if code, env := do(t, s, http.MethodPost, "/api/file/save", nil); code != http.StatusOK {
		t.Fatalf("save = %d %+v", code, env)
	}
	if code, env := do(t, s, http.MethodPost, "/api/file/save", nil); code != http.StatusConflict || env.Error.Code != "not_dirty" {
		t.Fatalf("save clean = %d %+v", code, env)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/file/close", nil); code != http.StatusOK {
		t.Fatalf("close file = %d", code)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/presentation/close", nil); code != http.StatusOK {
		t.Fatalf("close presentation = %d", code)
	}
}

func TestWebSocketDeltas(t *testing.T) {
	s, eng := newTestServer(t)
	do(t, s, http.MethodPost, "/api/presentation/open", map[string]any{"name": "demo"})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first hub.Message
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read reset: %v", err)
	}
	if first.Type != hub.TypeReset || first.Epoch != 1 {
		t.Fatalf("first = %+v", first)
	}

	// 等 hub 注册完成后再产生事件
	deadline := time.Now().Add(2 * time.Second)
	for eng.Hub().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	eng.Apply(context.Background(), timeline.MessagePayload{Role: "model", Content: "hello"})

	for {
		var msg struct {
			Type string         `json:"type"`
			Data timeline.Entry `json:"data"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == hub.TypeAppend {
			if msg.Data.Text != "hello" {
				t.Fatalf("append = %+v", msg.Data)
			}
			return
		}
	}
}

func TestSSEStartsWithReset(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()

	var got backend.RawEvent
	_ = backend.ReadEvents(resp.Body, func(ev backend.RawEvent) bool {
		got = ev
		return false
	})
	if got.Name != hub.TypeReset {
		t.Fatalf("first event = %q", got.Name)
	}
}
