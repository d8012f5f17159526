package realtime_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/realtime"
)

type fakeSessionRepo struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscription
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{subs: make(map[string]*domain.Subscription)}
}

func (f *fakeSessionRepo) Create(ctx context.Context, s *domain.Session) error { return nil }
func (f *fakeSessionRepo) Touch(ctx context.Context, sessionID string) error   { return nil }
func (f *fakeSessionRepo) MarkDeadForNode(ctx context.Context, nodeID string) (int64, error) {
	return 0, nil
}
func (f *fakeSessionRepo) Delete(ctx context.Context, sessionID string) error { return nil }

func (f *fakeSessionRepo) AddSubscription(ctx context.Context, sub *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.ID] = sub
	return nil
}

func (f *fakeSessionRepo) RemoveSubscription(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, subscriptionID)
	return nil
}

func (f *fakeSessionRepo) SubscriptionsForTable(ctx context.Context, table string) ([]*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Subscription
	for _, s := range f.subs {
		if s.Table == table {
			out = append(out, s)
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHub(t *testing.T, hub *realtime.Hub, sessionID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Register(sessionID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHub_BroadcastChange_DeliversMatchingRowID(t *testing.T) {
	repo := newFakeSessionRepo()
	hub := realtime.NewHub(repo, discardLogger())

	repo.subs["sub-1"] = &domain.Subscription{
		ID: "sub-1", SessionID: "sess-1", Table: "forge_jobs",
		ReadSetKind: domain.ReadSetRowIDs, RowIDs: []string{"job-1"},
	}

	client := dialHub(t, hub, "sess-1")
	hub.BroadcastChange(context.Background(), realtime.Change{Table: "forge_jobs", Operation: "update", RowID: "job-1"})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg realtime.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != realtime.MessageDelta || msg.SubscriptionID != "sub-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestHub_BroadcastChange_SkipsNonMatchingRowID(t *testing.T) {
	repo := newFakeSessionRepo()
	hub := realtime.NewHub(repo, discardLogger())
	repo.subs["sub-1"] = &domain.Subscription{
		ID: "sub-1", SessionID: "sess-1", Table: "forge_jobs",
		ReadSetKind: domain.ReadSetRowIDs, RowIDs: []string{"job-2"},
	}

	client := dialHub(t, hub, "sess-1")
	hub.BroadcastChange(context.Background(), realtime.Change{Table: "forge_jobs", Operation: "update", RowID: "job-1"})

	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatal("expected no message for non-matching row id")
	}
}
