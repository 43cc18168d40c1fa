package room

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/podiumlabs/podium/internal/store"
)

const (
	opRegistryJoin      = "room.registry.join"
	opRegistryLeave     = "room.registry.leave"
	opRegistryRoleOf    = "room.registry.role_of"
	opRegistryCountLive = "room.registry.count_live"

	defaultConnectionTTL = 24 * time.Hour
)

var errMissingConnections = errors.New("connection store is required")

// RegistryConfig wires the registry dependencies.
type RegistryConfig struct {
	Connections   *store.ConnectionStore
	ConnectionTTL time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Registry manages the join/leave lifecycle of connections. It exclusively
// owns Connection rows.
type Registry struct {
	connections   *store.ConnectionStore
	connectionTTL time.Duration
	clock         func() time.Time
	logger        *zap.Logger
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Connections == nil {
		return nil, newServiceError(opRegistryJoin, "missing_connection_store", errMissingConnections)
	}
	ttl := cfg.ConnectionTTL
	if ttl <= 0 {
		ttl = defaultConnectionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Registry{
		connections:   cfg.Connections,
		connectionTTL: ttl,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Join upserts the connection row with the supplied role and a fresh expiry.
// Any role other than presenter is stored as viewer: authentication failures
// fail open to viewer, closed to presenter.
func (r *Registry) Join(ctx context.Context, room, connectionID string, role store.Role) error {
	if role != store.RolePresenter {
		role = store.RoleViewer
	}
	connection := store.Connection{
		Room:         room,
		ConnectionID: connectionID,
		Role:         role,
		ExpiresAtS:   r.clock().Add(r.connectionTTL).Unix(),
	}
	if err := r.connections.Upsert(ctx, connection); err != nil {
		logError(r.logger, opRegistryJoin, "upsert_failed", err,
			zap.String("room", room),
			zap.String("connection_id", connectionID))
		return newServiceError(opRegistryJoin, "upsert_failed", err)
	}
	r.logger.Info("connection joined",
		zap.String("room", room),
		zap.String("connection_id", connectionID),
		zap.String("role", string(role)))
	return nil
}

// Leave deletes the connection row. Absence is not an error.
func (r *Registry) Leave(ctx context.Context, room, connectionID string) error {
	if err := r.connections.Delete(ctx, room, connectionID); err != nil {
		logError(r.logger, opRegistryLeave, "delete_failed", err,
			zap.String("room", room),
			zap.String("connection_id", connectionID))
		return newServiceError(opRegistryLeave, "delete_failed", err)
	}
	r.logger.Info("connection left",
		zap.String("room", room),
		zap.String("connection_id", connectionID))
	return nil
}

// RoleOf returns the connection's role, or ok=false when no row exists.
func (r *Registry) RoleOf(ctx context.Context, room, connectionID string) (store.Role, bool, error) {
	connection, err := r.connections.Get(ctx, room, connectionID)
	if err != nil {
		logError(r.logger, opRegistryRoleOf, "lookup_failed", err,
			zap.String("room", room),
			zap.String("connection_id", connectionID))
		return "", false, newServiceError(opRegistryRoleOf, "lookup_failed", err)
	}
	if connection == nil {
		return "", false, nil
	}
	return connection.Role, true, nil
}

// CountLive returns the number of live connections in the room.
func (r *Registry) CountLive(ctx context.Context, room string) (int64, error) {
	count, err := r.connections.CountByRoom(ctx, room)
	if err != nil {
		logError(r.logger, opRegistryCountLive, "count_failed", err, zap.String("room", room))
		return 0, newServiceError(opRegistryCountLive, "count_failed", err)
	}
	return count, nil
}
