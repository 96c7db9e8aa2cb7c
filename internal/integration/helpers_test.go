package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"roomcast/internal/app"
	"roomcast/internal/config"
	"roomcast/internal/logging"
	"roomcast/pkg/client"
	"roomcast/pkg/types"
)

// testEnv is a full application behind an httptest server.
type testEnv struct {
	app    *app.Application
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "roomcast.db")
	cfg.Logging.Level = "error"
	cfg.Messages.RateLimitPerMinute = 0

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		application.Registry().CloseAll()
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return &testEnv{app: application, server: server}
}

func (e *testEnv) post(t *testing.T, roomID int64, userID, content string) *types.Message {
	t.Helper()
	body := fmt.Sprintf(`{"roomId":%d,"userId":%q,"content":%q}`, roomID, userID, content)
	resp, err := http.Post(e.server.URL+"/api/messages", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post status = %d body %s", resp.StatusCode, raw)
	}
	var out struct {
		Data types.Message `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	return &out.Data
}

// watcher is a client session recording everything it receives.
type watcher struct {
	session *client.Session

	mu       sync.Mutex
	received []*types.Message
	statuses []types.UserStatusData
}

func (e *testEnv) newWatcher(t *testing.T, transport string, baseDelay time.Duration) *watcher {
	t.Helper()
	var dialer client.Dialer = &client.HTTPDialer{BaseURL: e.server.URL}
	if transport == "ws" {
		dialer = &client.WSDialer{BaseURL: e.server.URL}
	}
	quiet := logging.NewTestLogger(io.Discard)

	w := &watcher{}
	session, err := client.NewSession(client.SessionOptions{
		Dialer:    dialer,
		History:   &client.HTTPHistoryFetcher{BaseURL: e.server.URL},
		BaseDelay: baseDelay,
		Logger:    &quiet,
		OnMessages: func(msgs []*types.Message) {
			w.mu.Lock()
			w.received = append(w.received, msgs...)
			w.mu.Unlock()
		},
		OnStatus: func(s types.UserStatusData) {
			w.mu.Lock()
			w.statuses = append(w.statuses, s)
			w.mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	w.session = session
	t.Cleanup(session.Close)
	return w
}

func (w *watcher) receivedIDs() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int64, len(w.received))
	for i, m := range w.received {
		out[i] = m.ID
	}
	return out
}

func (w *watcher) sawStatus(userID, status string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.statuses {
		if s.UserID == userID && s.Status == status {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
