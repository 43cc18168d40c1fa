package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/podiumlabs/podium/internal/room"
)

const writeWait = 10 * time.Second

// PeerTable maps connection ids to live websocket connections and implements
// room.Transport. A send to an unknown or unwritable peer reports gone, which
// fanout turns into registry cleanup.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[string]*peer
}

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes to the socket
}

// NewPeerTable returns an empty peer table.
func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[string]*peer)}
}

// Register adds a live connection under its id.
func (t *PeerTable) Register(connectionID string, conn *websocket.Conn) {
	t.mu.Lock()
	t.peers[connectionID] = &peer{conn: conn}
	t.mu.Unlock()
}

// Unregister drops the connection id. Absence is not an error.
func (t *PeerTable) Unregister(connectionID string) {
	t.mu.Lock()
	delete(t.peers, connectionID)
	t.mu.Unlock()
}

// Len returns the number of registered peers.
func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Send delivers one payload to one peer. An unknown id or a failed write both
// mean the peer is gone: a websocket write error is not transient, the socket
// is dead and the entry is dropped on the spot.
func (t *PeerTable) Send(_ context.Context, connectionID string, payload []byte) error {
	t.mu.RLock()
	target, ok := t.peers[connectionID]
	t.mu.RUnlock()
	if !ok {
		return room.ErrConnectionGone
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	target.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := target.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Unregister(connectionID)
		return fmt.Errorf("%w: %v", room.ErrConnectionGone, err)
	}
	return nil
}

// Ping writes a control ping to keep the connection alive.
func (t *PeerTable) Ping(connectionID string) error {
	t.mu.RLock()
	target, ok := t.peers[connectionID]
	t.mu.RUnlock()
	if !ok {
		return room.ErrConnectionGone
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	target.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return target.conn.WriteMessage(websocket.PingMessage, nil)
}
