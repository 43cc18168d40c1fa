package store

import "encoding/json"

// Role enumerates the two connection roles.
type Role string

const (
	RolePresenter Role = "presenter"
	RoleViewer    Role = "viewer"
)

// Connection models one live websocket connection in a room. Exactly one row
// exists per connection id; rows are deleted on leave or expiry.
type Connection struct {
	Room         string `gorm:"column:room;primaryKey;size:190;not null"`
	ConnectionID string `gorm:"column:connection_id;primaryKey;size:190;not null"`
	Role         Role   `gorm:"column:role;size:32;not null"`
	ExpiresAtS   int64  `gorm:"column:expires_at_s;not null;index:idx_connections_expiry"`
}

// TableName provides the explicit table binding for GORM.
func (Connection) TableName() string {
	return "connections"
}

// PollMeta holds per-poll configuration. A poll is active iff its meta row
// exists; creation is a conditional insert so concurrent initializers cannot
// race to different option sets.
type PollMeta struct {
	PollID      string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	OptionsJSON string `gorm:"column:options_json;type:text;not null"`
	MaxChoices  int    `gorm:"column:max_choices;not null;default:1"`
	ExpiresAtS  int64  `gorm:"column:expires_at_s;not null;index:idx_poll_meta_expiry"`
}

// TableName provides the explicit table binding for GORM.
func (PollMeta) TableName() string {
	return "poll_meta"
}

// Options decodes the configured option labels.
func (m PollMeta) Options() ([]string, error) {
	if m.OptionsJSON == "" {
		return nil, nil
	}
	var options []string
	if err := json.Unmarshal([]byte(m.OptionsJSON), &options); err != nil {
		return nil, err
	}
	return options, nil
}

// VoteRecord is one visitor's vote for one choice. The compound primary key
// makes "visitor already voted for this exact choice" a uniqueness constraint
// enforced by a single conditional insert.
type VoteRecord struct {
	PollID     string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	VisitorID  string `gorm:"column:visitor_id;primaryKey;size:190;not null"`
	Choice     string `gorm:"column:choice;primaryKey;size:190;not null"`
	ExpiresAtS int64  `gorm:"column:expires_at_s;not null;index:idx_poll_votes_expiry"`
}

// TableName provides the explicit table binding for GORM.
func (VoteRecord) TableName() string {
	return "poll_votes"
}

// TallyCount is the aggregate vote count for one (poll, choice) pair. Counts
// are only ever mutated through atomic in-place adds, never read-modify-write.
type TallyCount struct {
	PollID string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	Choice string `gorm:"column:choice;primaryKey;size:190;not null"`
	Count  int64  `gorm:"column:count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (TallyCount) TableName() string {
	return "poll_tallies"
}
