package room

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/podiumlabs/podium/internal/store"
)

const (
	opPollGet    = "room.poll.get"
	opPollVote   = "room.poll.vote"
	opPollUnvote = "room.poll.unvote"
	opPollSwitch = "room.poll.switch"

	defaultPollTTL        = 24 * time.Hour
	defaultPollMaxChoices = 1
)

var (
	errMissingPollStore = errors.New("poll store is required")
	errMissingRegistry  = errors.New("registry is required")
	errMissingFanout    = errors.New("fanout is required")
)

// EngineConfig wires the poll engine dependencies.
type EngineConfig struct {
	Polls     *store.PollStore
	Registry  *Registry
	Fanout    *Fanout
	Transport Transport
	PollTTL   time.Duration
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Engine enforces the per-visitor vote invariants and maintains aggregate
// tallies. It exclusively owns poll rows.
//
// All coordination is pushed into the store's conditional inserts and atomic
// counter adds; the engine itself keeps no state between calls. The record
// write and the tally adjustment remain two separate store operations, so a
// crash between them leaves the pair momentarily inconsistent. That window is
// accepted instead of paying for a cross-row transaction on every vote.
type Engine struct {
	polls     *store.PollStore
	registry  *Registry
	fanout    *Fanout
	transport Transport
	pollTTL   time.Duration
	clock     func() time.Time
	logger    *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Polls == nil {
		return nil, newServiceError(opPollGet, "missing_poll_store", errMissingPollStore)
	}
	if cfg.Registry == nil {
		return nil, newServiceError(opPollGet, "missing_registry", errMissingRegistry)
	}
	if cfg.Fanout == nil {
		return nil, newServiceError(opPollGet, "missing_fanout", errMissingFanout)
	}
	if cfg.Transport == nil {
		return nil, newServiceError(opPollGet, "missing_transport", errMissingTransport)
	}
	ttl := cfg.PollTTL
	if ttl <= 0 {
		ttl = defaultPollTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		polls:     cfg.Polls,
		registry:  cfg.Registry,
		fanout:    cfg.Fanout,
		transport: cfg.Transport,
		pollTTL:   ttl,
		clock:     clock,
		logger:    logger,
	}, nil
}

// PollGetRequest asks for the current state of a poll, carrying the options
// and max-choices to apply if a presenter is bringing the poll into existence.
type PollGetRequest struct {
	PollID     string
	VisitorID  string
	Options    []string
	MaxChoices int
}

// PollVoteRequest casts or retracts one choice.
type PollVoteRequest struct {
	PollID    string
	VisitorID string
	Choice    string
}

// PollSwitchRequest moves a vote from one choice to another.
type PollSwitchRequest struct {
	PollID     string
	VisitorID  string
	FromChoice string
	ToChoice   string
}

// Get replies with the poll's current state. For an uninitialized poll only a
// presenter may create it; the fresh empty tally is then broadcast room-wide
// so every client learns the poll exists. For an active poll the reply goes to
// the caller only.
func (e *Engine) Get(ctx context.Context, room, connectionID string, req PollGetRequest) (Ack, error) {
	if !validStrings(req.PollID, req.VisitorID) {
		return Ack("Invalid " + EventPollGet), nil
	}

	meta, err := e.polls.GetMeta(ctx, req.PollID)
	if err != nil {
		logError(e.logger, opPollGet, "meta_lookup_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollGet, "meta_lookup_failed", err)
	}

	if meta == nil {
		role, ok, err := e.registry.RoleOf(ctx, room, connectionID)
		if err != nil {
			return "", err
		}
		if !ok || role != store.RolePresenter {
			e.replyToCaller(ctx, connectionID, PollNotInitializedMessage{
				Type:   MessagePollNotInitialized,
				PollID: req.PollID,
			})
			return AckPollNotInitialized, nil
		}

		maxChoices := req.MaxChoices
		if maxChoices <= 0 {
			maxChoices = defaultPollMaxChoices
		}
		created, err := e.polls.CreateMetaIfAbsent(ctx, req.PollID, req.Options, maxChoices, e.expiry())
		if err != nil {
			logError(e.logger, opPollGet, "meta_create_failed", err, zap.String("poll_id", req.PollID))
			return "", newServiceError(opPollGet, "meta_create_failed", err)
		}
		if !created {
			// Lost the initialization race; the first writer's options stand.
			e.logger.Debug("poll already initialized", zap.String("poll_id", req.PollID))
		}

		if _, err := e.fanout.BroadcastJSON(ctx, room, PollStateMessage{
			Type:   MessagePollState,
			PollID: req.PollID,
			Votes:  map[string]int64{},
		}, ""); err != nil {
			return "", err
		}
		return AckPollInitialized, nil
	}

	tally, err := e.polls.Tally(ctx, req.PollID)
	if err != nil {
		logError(e.logger, opPollGet, "tally_lookup_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollGet, "tally_lookup_failed", err)
	}
	myChoices, err := e.polls.ChoicesFor(ctx, req.PollID, req.VisitorID)
	if err != nil {
		logError(e.logger, opPollGet, "choices_lookup_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollGet, "choices_lookup_failed", err)
	}

	e.replyToCaller(ctx, connectionID, PollStateMessage{
		Type:      MessagePollState,
		PollID:    req.PollID,
		Votes:     tally,
		MyChoices: myChoices,
	})
	return AckOK, nil
}

// Vote records one choice for the visitor. Voting twice for the same choice is
// an idempotent no-op.
func (e *Engine) Vote(ctx context.Context, room, connectionID string, req PollVoteRequest) (Ack, error) {
	if !validStrings(req.PollID, req.VisitorID, req.Choice) {
		return Ack("Invalid " + EventPollVote), nil
	}

	meta, ack, err := e.requireActivePoll(ctx, opPollVote, connectionID, req.PollID, req.VisitorID, req.Choice)
	if err != nil || ack != "" {
		return ack, err
	}

	held, err := e.polls.CountVotesFor(ctx, req.PollID, req.VisitorID)
	if err != nil {
		logError(e.logger, opPollVote, "count_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollVote, "count_failed", err)
	}
	if held >= int64(meta.MaxChoices) {
		if err := e.pushStateWithError(ctx, connectionID, req.PollID, req.VisitorID, string(AckMaxChoicesReached)); err != nil {
			return "", err
		}
		return AckMaxChoicesReached, nil
	}

	created, err := e.polls.CreateVoteIfAbsent(ctx, store.VoteRecord{
		PollID:     req.PollID,
		VisitorID:  req.VisitorID,
		Choice:     req.Choice,
		ExpiresAtS: e.expiry(),
	})
	if err != nil {
		logError(e.logger, opPollVote, "record_create_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollVote, "record_create_failed", err)
	}
	if !created {
		return AckAlreadyVoted, nil
	}

	if err := e.polls.AdjustTally(ctx, req.PollID, map[string]int64{req.Choice: 1}); err != nil {
		logError(e.logger, opPollVote, "tally_adjust_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollVote, "tally_adjust_failed", err)
	}

	if err := e.broadcastAndReply(ctx, room, connectionID, req.PollID, req.VisitorID); err != nil {
		return "", err
	}
	return AckVoted, nil
}

// Unvote retracts one choice. A missing record is reported, not treated as an
// error, and leaves no state behind.
func (e *Engine) Unvote(ctx context.Context, room, connectionID string, req PollVoteRequest) (Ack, error) {
	if !validStrings(req.PollID, req.VisitorID, req.Choice) {
		return Ack("Invalid " + EventPollUnvote), nil
	}

	deleted, err := e.polls.DeleteVoteIfPresent(ctx, req.PollID, req.VisitorID, req.Choice)
	if err != nil {
		logError(e.logger, opPollUnvote, "record_delete_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollUnvote, "record_delete_failed", err)
	}
	if !deleted {
		return AckVoteNotFound, nil
	}

	if err := e.polls.AdjustTally(ctx, req.PollID, map[string]int64{req.Choice: -1}); err != nil {
		logError(e.logger, opPollUnvote, "tally_adjust_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollUnvote, "tally_adjust_failed", err)
	}

	if err := e.broadcastAndReply(ctx, room, connectionID, req.PollID, req.VisitorID); err != nil {
		return "", err
	}
	return AckUnvoted, nil
}

// Switch retracts fromChoice and casts toChoice as a pair. When the second
// half fails because the target is already held, the retracted vote is
// restored best-effort so the visitor is never left with neither.
func (e *Engine) Switch(ctx context.Context, room, connectionID string, req PollSwitchRequest) (Ack, error) {
	if !validStrings(req.PollID, req.VisitorID, req.FromChoice, req.ToChoice) {
		return Ack("Invalid " + EventPollSwitch), nil
	}

	_, ack, err := e.requireActivePoll(ctx, opPollSwitch, connectionID, req.PollID, req.VisitorID, req.FromChoice, req.ToChoice)
	if err != nil || ack != "" {
		return ack, err
	}

	deleted, err := e.polls.DeleteVoteIfPresent(ctx, req.PollID, req.VisitorID, req.FromChoice)
	if err != nil {
		logError(e.logger, opPollSwitch, "record_delete_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollSwitch, "record_delete_failed", err)
	}
	if !deleted {
		return AckOldVoteNotFound, nil
	}

	expiry := e.expiry()
	created, err := e.polls.CreateVoteIfAbsent(ctx, store.VoteRecord{
		PollID:     req.PollID,
		VisitorID:  req.VisitorID,
		Choice:     req.ToChoice,
		ExpiresAtS: expiry,
	})
	if err != nil {
		logError(e.logger, opPollSwitch, "record_create_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollSwitch, "record_create_failed", err)
	}
	if !created {
		// Target already held: restore the retracted vote so it isn't lost.
		if restoreErr := e.polls.RestoreVote(ctx, store.VoteRecord{
			PollID:     req.PollID,
			VisitorID:  req.VisitorID,
			Choice:     req.FromChoice,
			ExpiresAtS: expiry,
		}); restoreErr != nil {
			logError(e.logger, opPollSwitch, "restore_failed", restoreErr,
				zap.String("poll_id", req.PollID),
				zap.String("visitor_id", req.VisitorID))
		}
		return AckAlreadyVotedTarget, nil
	}

	if err := e.polls.AdjustTally(ctx, req.PollID, map[string]int64{
		req.FromChoice: -1,
		req.ToChoice:   1,
	}); err != nil {
		logError(e.logger, opPollSwitch, "tally_adjust_failed", err, zap.String("poll_id", req.PollID))
		return "", newServiceError(opPollSwitch, "tally_adjust_failed", err)
	}

	if err := e.broadcastAndReply(ctx, room, connectionID, req.PollID, req.VisitorID); err != nil {
		return "", err
	}
	return AckSwitched, nil
}

// requireActivePoll fetches the poll meta and checks the supplied choices
// against its options. On a policy failure the caller gets a state refresh and
// a non-empty ack comes back; infrastructure failures come back as errors.
func (e *Engine) requireActivePoll(ctx context.Context, operation, connectionID, pollID, visitorID string, choices ...string) (*store.PollMeta, Ack, error) {
	meta, err := e.polls.GetMeta(ctx, pollID)
	if err != nil {
		logError(e.logger, operation, "meta_lookup_failed", err, zap.String("poll_id", pollID))
		return nil, "", newServiceError(operation, "meta_lookup_failed", err)
	}
	if meta == nil {
		if err := e.pushStateWithError(ctx, connectionID, pollID, visitorID, string(AckPollNotInitialized)); err != nil {
			return nil, "", err
		}
		return nil, AckPollNotInitialized, nil
	}

	options, err := meta.Options()
	if err != nil {
		logError(e.logger, operation, "options_decode_failed", err, zap.String("poll_id", pollID))
		return nil, "", newServiceError(operation, "options_decode_failed", err)
	}
	if len(options) > 0 {
		allowed := make(map[string]struct{}, len(options))
		for _, option := range options {
			allowed[option] = struct{}{}
		}
		for _, choice := range choices {
			if _, ok := allowed[choice]; !ok {
				if err := e.pushStateWithError(ctx, connectionID, pollID, visitorID, string(AckInvalidChoice)); err != nil {
					return nil, "", err
				}
				return nil, AckInvalidChoice, nil
			}
		}
	}

	return meta, "", nil
}

// broadcastAndReply fetches the updated tally, broadcasts it to the room
// excluding the caller, then sends the caller the tally plus their own
// current choices.
func (e *Engine) broadcastAndReply(ctx context.Context, room, connectionID, pollID, visitorID string) error {
	tally, err := e.polls.Tally(ctx, pollID)
	if err != nil {
		return newServiceError(opPollGet, "tally_lookup_failed", err)
	}

	if _, err := e.fanout.BroadcastJSON(ctx, room, PollStateMessage{
		Type:   MessagePollState,
		PollID: pollID,
		Votes:  tally,
	}, connectionID); err != nil {
		return err
	}

	myChoices, err := e.polls.ChoicesFor(ctx, pollID, visitorID)
	if err != nil {
		return newServiceError(opPollGet, "choices_lookup_failed", err)
	}
	e.replyToCaller(ctx, connectionID, PollStateMessage{
		Type:      MessagePollState,
		PollID:    pollID,
		Votes:     tally,
		MyChoices: myChoices,
	})
	return nil
}

// pushStateWithError sends the caller the current poll state annotated with
// the rejection reason, so pending client spinners are cleared.
func (e *Engine) pushStateWithError(ctx context.Context, connectionID, pollID, visitorID, reason string) error {
	votes := map[string]int64{}
	meta, err := e.polls.GetMeta(ctx, pollID)
	if err != nil {
		return newServiceError(opPollGet, "meta_lookup_failed", err)
	}
	if meta != nil {
		votes, err = e.polls.Tally(ctx, pollID)
		if err != nil {
			return newServiceError(opPollGet, "tally_lookup_failed", err)
		}
	}
	myChoices, err := e.polls.ChoicesFor(ctx, pollID, visitorID)
	if err != nil {
		return newServiceError(opPollGet, "choices_lookup_failed", err)
	}
	e.replyToCaller(ctx, connectionID, PollStateMessage{
		Type:      MessagePollState,
		PollID:    pollID,
		Votes:     votes,
		MyChoices: myChoices,
		Error:     reason,
	})
	return nil
}

// replyToCaller delivers a direct message to the requesting connection. A
// caller that vanished mid-operation is not an error.
func (e *Engine) replyToCaller(ctx context.Context, connectionID string, payload interface{}) {
	if err := sendJSON(ctx, e.transport, connectionID, payload); err != nil && !errors.Is(err, ErrConnectionGone) {
		e.logger.Warn("direct reply failed",
			zap.String("connection_id", connectionID),
			zap.Error(err))
	}
}

func (e *Engine) expiry() int64 {
	return e.clock().Add(e.pollTTL).Unix()
}
