package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConnectionStore is the durable mapping of active connections to rooms and
// roles. It is the only component with mutation rights over Connection rows.
type ConnectionStore struct {
	db *gorm.DB
}

// NewConnectionStore wraps a database handle.
func NewConnectionStore(db *gorm.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

// Upsert writes the connection row, replacing role and expiry if it exists.
func (s *ConnectionStore) Upsert(ctx context.Context, conn Connection) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room"}, {Name: "connection_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "expires_at_s"}),
		}).
		Create(&conn).Error
}

// Delete removes the connection row. Absence is not an error.
func (s *ConnectionStore) Delete(ctx context.Context, room, connectionID string) error {
	return s.db.WithContext(ctx).
		Where("room = ? AND connection_id = ?", room, connectionID).
		Delete(&Connection{}).Error
}

// Get returns the connection row, or nil when no row exists.
func (s *ConnectionStore) Get(ctx context.Context, room, connectionID string) (*Connection, error) {
	var conn Connection
	err := s.db.WithContext(ctx).
		Where("room = ? AND connection_id = ?", room, connectionID).
		Take(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// ListByRoom returns every live connection row for the room.
func (s *ConnectionStore) ListByRoom(ctx context.Context, room string) ([]Connection, error) {
	var conns []Connection
	if err := s.db.WithContext(ctx).
		Where("room = ?", room).
		Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// CountByRoom returns the number of live connection rows for the room.
func (s *ConnectionStore) CountByRoom(ctx context.Context, room string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Connection{}).
		Where("room = ?", room).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// PurgeExpired removes connection rows whose expiry has passed.
func (s *ConnectionStore) PurgeExpired(ctx context.Context, nowUnix int64) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at_s <= ?", nowUnix).
		Delete(&Connection{})
	return result.RowsAffected, result.Error
}
