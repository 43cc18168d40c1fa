package store

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PollStore is the durable mapping of poll metadata, individual vote records,
// and aggregate tallies. It is the only component with mutation rights over
// poll rows.
//
// Two primitives carry all of the engine's concurrency guarantees: the
// conditional inserts (create iff absent, per-row all-or-nothing) and the
// in-place counter adds. Everything else is plain reads.
type PollStore struct {
	db *gorm.DB
}

// NewPollStore wraps a database handle.
func NewPollStore(db *gorm.DB) *PollStore {
	return &PollStore{db: db}
}

// CreateMetaIfAbsent inserts the poll meta row only when no row exists for the
// poll id. It reports created=false when a concurrent initializer won the
// race; the caller treats that as success (first writer wins).
func (s *PollStore) CreateMetaIfAbsent(ctx context.Context, pollID string, options []string, maxChoices int, expiresAtUnix int64) (bool, error) {
	if options == nil {
		options = []string{}
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return false, err
	}

	meta := PollMeta{
		PollID:      pollID,
		OptionsJSON: string(optionsJSON),
		MaxChoices:  maxChoices,
		ExpiresAtS:  expiresAtUnix,
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&meta)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetMeta returns the poll meta row, or nil when the poll is uninitialized.
func (s *PollStore) GetMeta(ctx context.Context, pollID string) (*PollMeta, error) {
	var meta PollMeta
	err := s.db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Take(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// CreateVoteIfAbsent inserts the vote record only when the visitor has not
// already voted for this exact choice. created=false means the record already
// existed.
func (s *PollStore) CreateVoteIfAbsent(ctx context.Context, record VoteRecord) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RestoreVote unconditionally rewrites a vote record. Used only by switch
// compensation, where the record was deleted moments earlier by the same
// caller.
func (s *PollStore) RestoreVote(ctx context.Context, record VoteRecord) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
}

// DeleteVoteIfPresent removes the vote record, reporting whether a row was
// actually deleted.
func (s *PollStore) DeleteVoteIfPresent(ctx context.Context, pollID, visitorID, choice string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("poll_id = ? AND visitor_id = ? AND choice = ?", pollID, visitorID, choice).
		Delete(&VoteRecord{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ChoicesFor lists the choices the visitor currently holds for the poll.
func (s *PollStore) ChoicesFor(ctx context.Context, pollID, visitorID string) ([]string, error) {
	var choices []string
	if err := s.db.WithContext(ctx).
		Model(&VoteRecord{}).
		Where("poll_id = ? AND visitor_id = ?", pollID, visitorID).
		Order("choice").
		Pluck("choice", &choices).Error; err != nil {
		return nil, err
	}
	return choices, nil
}

// CountVotesFor returns how many vote records the visitor holds for the poll.
func (s *PollStore) CountVotesFor(ctx context.Context, pollID, visitorID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&VoteRecord{}).
		Where("poll_id = ? AND visitor_id = ?", pollID, visitorID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// AdjustTally applies the per-choice deltas as atomic in-place adds, inserting
// the tally row on first touch. All deltas are applied in one transaction so a
// vote switch adjusts both choices together.
//
// There is no floor at zero: two racing unvotes can drive a count negative for
// a moment, matching the additive-counter semantics the engine is built on.
func (s *PollStore) AdjustTally(ctx context.Context, pollID string, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for choice, delta := range deltas {
			row := TallyCount{PollID: pollID, Choice: choice, Count: delta}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "poll_id"}, {Name: "choice"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("count + ?", delta)}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Tally returns the current per-choice counts for the poll.
func (s *PollStore) Tally(ctx context.Context, pollID string) (map[string]int64, error) {
	var rows []TallyCount
	if err := s.db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	tally := make(map[string]int64, len(rows))
	for _, row := range rows {
		tally[row.Choice] = row.Count
	}
	return tally, nil
}

// PurgeExpired removes poll rows (meta and votes) whose expiry has passed.
// Tally rows for purged polls are removed alongside their meta.
func (s *PollStore) PurgeExpired(ctx context.Context, nowUnix int64) (int64, error) {
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []string
		if err := tx.Model(&PollMeta{}).
			Where("expires_at_s <= ?", nowUnix).
			Pluck("poll_id", &expired).Error; err != nil {
			return err
		}
		if len(expired) > 0 {
			if err := tx.Where("poll_id IN ?", expired).Delete(&TallyCount{}).Error; err != nil {
				return err
			}
			result := tx.Where("poll_id IN ?", expired).Delete(&PollMeta{})
			if result.Error != nil {
				return result.Error
			}
			purged += result.RowsAffected
		}
		result := tx.Where("expires_at_s <= ?", nowUnix).Delete(&VoteRecord{})
		if result.Error != nil {
			return result.Error
		}
		purged += result.RowsAffected
		return nil
	})
	return purged, err
}
