package room

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/podiumlabs/podium/internal/store"
)

const opBroadcast = "room.broadcast"

var (
	errMissingConnectionStore = errors.New("connection store is required")
	errMissingTransport       = errors.New("transport is required")
)

// FanoutConfig wires the broadcast dependencies.
type FanoutConfig struct {
	Connections *store.ConnectionStore
	Transport   Transport
	Logger      *zap.Logger
}

// Fanout delivers a payload to every live connection in a room. Peers whose
// transport reports gone are deleted from the connection store after the
// delivery pass, so the registry self-heals without a dedicated reaper for
// dead sockets.
type Fanout struct {
	connections *store.ConnectionStore
	transport   Transport
	logger      *zap.Logger
}

// NewFanout constructs a Fanout.
func NewFanout(cfg FanoutConfig) (*Fanout, error) {
	if cfg.Connections == nil {
		return nil, newServiceError(opBroadcast, "missing_connection_store", errMissingConnectionStore)
	}
	if cfg.Transport == nil {
		return nil, newServiceError(opBroadcast, "missing_transport", errMissingTransport)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Fanout{
		connections: cfg.Connections,
		transport:   cfg.Transport,
		logger:      logger,
	}, nil
}

// Broadcast delivers the payload to all connections in the room except the
// excluded one and returns the delivered count. Delivery order is unspecified
// and best-effort: a gone peer never blocks the rest. A transport error other
// than gone aborts the call, on the assumption it signals an infrastructure
// outage worth surfacing rather than masking.
func (f *Fanout) Broadcast(ctx context.Context, room string, payload []byte, excludeConnectionID string) (int, error) {
	connections, err := f.connections.ListByRoom(ctx, room)
	if err != nil {
		logError(f.logger, opBroadcast, "list_failed", err, zap.String("room", room))
		return 0, newServiceError(opBroadcast, "list_failed", err)
	}

	delivered := 0
	var stale []string
	for _, connection := range connections {
		if excludeConnectionID != "" && connection.ConnectionID == excludeConnectionID {
			continue
		}
		sendErr := f.transport.Send(ctx, connection.ConnectionID, payload)
		if errors.Is(sendErr, ErrConnectionGone) {
			stale = append(stale, connection.ConnectionID)
			continue
		}
		if sendErr != nil {
			logError(f.logger, opBroadcast, "send_failed", sendErr,
				zap.String("room", room),
				zap.String("connection_id", connection.ConnectionID))
			return delivered, newServiceError(opBroadcast, "send_failed", sendErr)
		}
		delivered++
	}

	for _, connectionID := range stale {
		if deleteErr := f.connections.Delete(ctx, room, connectionID); deleteErr != nil {
			logError(f.logger, opBroadcast, "stale_delete_failed", deleteErr,
				zap.String("room", room),
				zap.String("connection_id", connectionID))
			return delivered, newServiceError(opBroadcast, "stale_delete_failed", deleteErr)
		}
		f.logger.Debug("removed stale connection",
			zap.String("room", room),
			zap.String("connection_id", connectionID))
	}

	return delivered, nil
}

// BroadcastJSON marshals the payload and broadcasts it.
func (f *Fanout) BroadcastJSON(ctx context.Context, room string, payload interface{}, excludeConnectionID string) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, newServiceError(opBroadcast, "marshal_failed", err)
	}
	return f.Broadcast(ctx, room, data, excludeConnectionID)
}
