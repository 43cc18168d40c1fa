package room

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/podiumlabs/podium/internal/store"
)

const (
	opRelay       = "room.relay"
	opViewerCount = "room.viewer_count"
)

// RelayConfig wires the slide sync dependencies.
type RelayConfig struct {
	Registry  *Registry
	Fanout    *Fanout
	Transport Transport
	Logger    *zap.Logger
}

// Relay is the thin policy layer over broadcast for the presentation-control
// channel: only presenter-origin payloads are fanned out. The role lookup here
// is the sole authorization gate for slide sync.
type Relay struct {
	registry  *Registry
	fanout    *Fanout
	transport Transport
	logger    *zap.Logger
}

// NewRelay constructs a Relay.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Registry == nil {
		return nil, newServiceError(opRelay, "missing_registry", errMissingRegistry)
	}
	if cfg.Fanout == nil {
		return nil, newServiceError(opRelay, "missing_fanout", errMissingFanout)
	}
	if cfg.Transport == nil {
		return nil, newServiceError(opRelay, "missing_transport", errMissingTransport)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Relay{
		registry:  cfg.Registry,
		fanout:    cfg.Fanout,
		transport: cfg.Transport,
		logger:    logger,
	}, nil
}

// Relay broadcasts the raw payload verbatim to the room, excluding the sender.
// Non-presenter senders are silently dropped.
func (r *Relay) Relay(ctx context.Context, room, connectionID string, payload []byte) (Ack, error) {
	role, ok, err := r.registry.RoleOf(ctx, room, connectionID)
	if err != nil {
		return "", err
	}
	if !ok || role != store.RolePresenter {
		return AckIgnored, nil
	}

	if _, err := r.fanout.Broadcast(ctx, room, payload, connectionID); err != nil {
		return "", err
	}
	return AckSent, nil
}

// ViewerCount replies to the caller with the room's live connection count.
func (r *Relay) ViewerCount(ctx context.Context, room, connectionID string) (Ack, error) {
	count, err := r.registry.CountLive(ctx, room)
	if err != nil {
		return "", err
	}
	message := ViewerCountMessage{Type: MessageViewerCount, Count: count}
	if err := sendJSON(ctx, r.transport, connectionID, message); err != nil && !errors.Is(err, ErrConnectionGone) {
		logError(r.logger, opViewerCount, "reply_failed", err, zap.String("connection_id", connectionID))
		return "", newServiceError(opViewerCount, "reply_failed", err)
	}
	return AckOK, nil
}

// BroadcastViewerCount pushes the current count to every connection in the
// room. Callers use it after a leave so audiences see the drop promptly.
func (r *Relay) BroadcastViewerCount(ctx context.Context, room string) (Ack, error) {
	count, err := r.registry.CountLive(ctx, room)
	if err != nil {
		return "", err
	}
	if _, err := r.fanout.BroadcastJSON(ctx, room, ViewerCountMessage{
		Type:  MessageViewerCount,
		Count: count,
	}, ""); err != nil {
		return "", err
	}
	return AckSent, nil
}
