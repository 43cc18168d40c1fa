package room

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/podiumlabs/podium/internal/store"
)

// fakeTransport records deliveries per connection and can simulate gone peers
// and infrastructure failures.
type fakeTransport struct {
	mu      sync.Mutex
	sends   map[string][][]byte
	gone    map[string]bool
	failing map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sends:   make(map[string][][]byte),
		gone:    make(map[string]bool),
		failing: make(map[string]error),
	}
}

func (f *fakeTransport) Send(_ context.Context, connectionID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[connectionID] {
		return ErrConnectionGone
	}
	if err := f.failing[connectionID]; err != nil {
		return err
	}
	copied := append([]byte(nil), payload...)
	f.sends[connectionID] = append(f.sends[connectionID], copied)
	return nil
}

func (f *fakeTransport) markGone(connectionID string) {
	f.mu.Lock()
	f.gone[connectionID] = true
	f.mu.Unlock()
}

func (f *fakeTransport) failWith(connectionID string, err error) {
	f.mu.Lock()
	f.failing[connectionID] = err
	f.mu.Unlock()
}

func (f *fakeTransport) sent(connectionID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sends[connectionID]...)
}

func (f *fakeTransport) lastPollState(t *testing.T, connectionID string) PollStateMessage {
	t.Helper()
	messages := f.sent(connectionID)
	for i := len(messages) - 1; i >= 0; i-- {
		var state PollStateMessage
		if err := json.Unmarshal(messages[i], &state); err == nil && state.Type == MessagePollState {
			return state
		}
	}
	t.Fatalf("no poll_state message delivered to %s", connectionID)
	return PollStateMessage{}
}

type harness struct {
	transport   *fakeTransport
	connections *store.ConnectionStore
	polls       *store.PollStore
	registry    *Registry
	fanout      *Fanout
	engine      *Engine
	relay       *Relay
	dispatcher  *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := store.OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("unexpected database error: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	transport := newFakeTransport()
	connections := store.NewConnectionStore(db)
	polls := store.NewPollStore(db)

	registry, err := NewRegistry(RegistryConfig{Connections: connections})
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	fanout, err := NewFanout(FanoutConfig{Connections: connections, Transport: transport})
	if err != nil {
		t.Fatalf("unexpected fanout error: %v", err)
	}
	engine, err := NewEngine(EngineConfig{
		Polls:     polls,
		Registry:  registry,
		Fanout:    fanout,
		Transport: transport,
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	relay, err := NewRelay(RelayConfig{Registry: registry, Fanout: fanout, Transport: transport})
	if err != nil {
		t.Fatalf("unexpected relay error: %v", err)
	}
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Room:     "main",
		Registry: registry,
		Engine:   engine,
		Relay:    relay,
	})
	if err != nil {
		t.Fatalf("unexpected dispatcher error: %v", err)
	}

	return &harness{
		transport:   transport,
		connections: connections,
		polls:       polls,
		registry:    registry,
		fanout:      fanout,
		engine:      engine,
		relay:       relay,
		dispatcher:  dispatcher,
	}
}

func (h *harness) join(t *testing.T, connectionID string, role store.Role) {
	t.Helper()
	if err := h.registry.Join(context.Background(), "main", connectionID, role); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
}

func (h *harness) tally(t *testing.T, pollID string) map[string]int64 {
	t.Helper()
	tally, err := h.polls.Tally(context.Background(), pollID)
	if err != nil {
		t.Fatalf("unexpected tally error: %v", err)
	}
	return tally
}

func (h *harness) choices(t *testing.T, pollID, visitorID string) []string {
	t.Helper()
	choices, err := h.polls.ChoicesFor(context.Background(), pollID, visitorID)
	if err != nil {
		t.Fatalf("unexpected choices error: %v", err)
	}
	return choices
}
