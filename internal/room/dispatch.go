package room

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/podiumlabs/podium/internal/store"
)

const opDispatch = "room.dispatch"

var (
	errMissingEngine = errors.New("engine is required")
	errMissingRelay  = errors.New("relay is required")
	errMissingRoom   = errors.New("room name is required")
)

// DispatcherConfig wires the dispatcher dependencies.
type DispatcherConfig struct {
	Room     string
	Registry *Registry
	Engine   *Engine
	Relay    *Relay
	Logger   *zap.Logger
}

// Dispatcher routes each inbound event to exactly one handler. Events that do
// not parse as a typed message are treated as slide sync payloads, preserving
// the wire format presenters already emit.
type Dispatcher struct {
	room     string
	registry *Registry
	engine   *Engine
	relay    *Relay
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Room == "" {
		return nil, newServiceError(opDispatch, "missing_room", errMissingRoom)
	}
	if cfg.Registry == nil {
		return nil, newServiceError(opDispatch, "missing_registry", errMissingRegistry)
	}
	if cfg.Engine == nil {
		return nil, newServiceError(opDispatch, "missing_engine", errMissingEngine)
	}
	if cfg.Relay == nil {
		return nil, newServiceError(opDispatch, "missing_relay", errMissingRelay)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Dispatcher{
		room:     cfg.Room,
		registry: cfg.Registry,
		engine:   cfg.Engine,
		relay:    cfg.Relay,
		logger:   logger,
	}, nil
}

// Room returns the room this dispatcher serves.
func (d *Dispatcher) Room() string {
	return d.room
}

// Join registers a new connection with the supplied role.
func (d *Dispatcher) Join(ctx context.Context, connectionID string, role store.Role) error {
	return d.registry.Join(ctx, d.room, connectionID, role)
}

// Leave removes a connection and pushes the updated viewer count to the room.
func (d *Dispatcher) Leave(ctx context.Context, connectionID string) error {
	if err := d.registry.Leave(ctx, d.room, connectionID); err != nil {
		return err
	}
	if _, err := d.relay.BroadcastViewerCount(ctx, d.room); err != nil {
		// The departure itself succeeded; a failed count push is not fatal.
		d.logger.Warn("viewer count rebroadcast failed", zap.Error(err))
	}
	return nil
}

// Dispatch routes one inbound message from a connection and returns the ack.
func (d *Dispatcher) Dispatch(ctx context.Context, connectionID string, raw []byte) (Ack, error) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		envelope = inboundEnvelope{}
	}

	switch envelope.Type {
	case EventPollGet:
		return d.engine.Get(ctx, d.room, connectionID, PollGetRequest{
			PollID:     envelope.PollID,
			VisitorID:  envelope.VisitorID,
			Options:    envelope.Options,
			MaxChoices: envelope.MaxChoices,
		})
	case EventPollVote:
		return d.engine.Vote(ctx, d.room, connectionID, PollVoteRequest{
			PollID:    envelope.PollID,
			VisitorID: envelope.VisitorID,
			Choice:    envelope.Choice,
		})
	case EventPollUnvote:
		return d.engine.Unvote(ctx, d.room, connectionID, PollVoteRequest{
			PollID:    envelope.PollID,
			VisitorID: envelope.VisitorID,
			Choice:    envelope.Choice,
		})
	case EventPollSwitch:
		return d.engine.Switch(ctx, d.room, connectionID, PollSwitchRequest{
			PollID:     envelope.PollID,
			VisitorID:  envelope.VisitorID,
			FromChoice: envelope.FromChoice,
			ToChoice:   envelope.ToChoice,
		})
	case EventViewerCount:
		return d.relay.ViewerCount(ctx, d.room, connectionID)
	default:
		return d.relay.Relay(ctx, d.room, connectionID, raw)
	}
}
