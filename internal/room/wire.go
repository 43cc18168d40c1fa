package room

import "strings"

// Inbound event types. Anything else on the wire is treated as a slide sync
// payload and relayed verbatim when the sender is the presenter.
const (
	EventPollGet     = "poll_get"
	EventPollVote    = "poll_vote"
	EventPollUnvote  = "poll_unvote"
	EventPollSwitch  = "poll_switch"
	EventViewerCount = "viewer_count"
)

// Outbound message types.
const (
	MessagePollState          = "poll_state"
	MessagePollNotInitialized = "poll_not_initialized"
	MessageViewerCount        = "viewer_count"
)

// Ack is the lightweight acknowledgement every handler returns. Substantive
// payloads never ride on the ack; they travel through broadcast or direct
// reply.
type Ack string

const (
	AckOK                 Ack = "OK"
	AckIgnored            Ack = "Ignored"
	AckSent               Ack = "Sent"
	AckVoted              Ack = "Voted"
	AckUnvoted            Ack = "Unvoted"
	AckSwitched           Ack = "Switched"
	AckPollInitialized    Ack = "Poll initialized"
	AckPollNotInitialized Ack = "Poll not initialized"
	AckInvalidChoice      Ack = "Invalid choice"
	AckMaxChoicesReached  Ack = "Max choices reached"
	AckAlreadyVoted       Ack = "Already voted for this choice"
	AckAlreadyVotedTarget Ack = "Already voted for target choice"
	AckVoteNotFound       Ack = "Vote not found"
	AckOldVoteNotFound    Ack = "Old vote not found"
)

// inboundEnvelope is the superset of fields a typed inbound event may carry.
type inboundEnvelope struct {
	Type       string   `json:"type"`
	PollID     string   `json:"pollId"`
	VisitorID  string   `json:"visitorId"`
	Choice     string   `json:"choice"`
	FromChoice string   `json:"fromChoice"`
	ToChoice   string   `json:"toChoice"`
	Options    []string `json:"options"`
	MaxChoices int      `json:"maxChoices"`
}

// PollStateMessage is pushed to clients whenever a tally changes, and directly
// to a caller whose request needs a state refresh. MyChoices is populated only
// on direct replies. Error, when set, names the policy rejection so optimistic
// client UI can reconcile.
type PollStateMessage struct {
	Type      string           `json:"type"`
	PollID    string           `json:"pollId"`
	Votes     map[string]int64 `json:"votes"`
	MyChoices []string         `json:"myChoices,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// PollNotInitializedMessage tells a non-presenter the poll does not exist yet.
type PollNotInitializedMessage struct {
	Type   string `json:"type"`
	PollID string `json:"pollId"`
}

// ViewerCountMessage reports the live connection count for the room.
type ViewerCountMessage struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

const maxInputLength = 256

// validStrings reports whether every value is non-empty and within bounds.
func validStrings(values ...string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) == "" || len(value) > maxInputLength {
			return false
		}
	}
	return true
}
