package room

import (
	"context"
	"testing"

	"github.com/podiumlabs/podium/internal/store"
)

func TestViewerCannotInitializePoll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "viewer-1", store.RoleViewer)

	ack, err := h.engine.Get(ctx, "main", "viewer-1", PollGetRequest{PollID: "p1", VisitorID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack != AckPollNotInitialized {
		t.Fatalf("expected %q, got %q", AckPollNotInitialized, ack)
	}

	meta, err := h.polls.GetMeta(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected meta error: %v", err)
	}
	if meta != nil {
		t.Fatal("viewer get must not create poll meta")
	}

	messages := h.transport.sent("viewer-1")
	if len(messages) != 1 {
		t.Fatalf("expected one direct reply, got %d", len(messages))
	}
}

func TestPresenterGetInitializesAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "presenter-1", store.RolePresenter)
	h.join(t, "viewer-1", store.RoleViewer)

	ack, err := h.engine.Get(ctx, "main", "presenter-1", PollGetRequest{
		PollID:    "p1",
		VisitorID: "host",
		Options:   []string{"yes", "no"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack != AckPollInitialized {
		t.Fatalf("expected %q, got %q", AckPollInitialized, ack)
	}

	meta, err := h.polls.GetMeta(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected meta error: %v", err)
	}
	if meta == nil {
		t.Fatal("expected poll meta to exist")
	}
	if meta.MaxChoices != 1 {
		t.Fatalf("expected default max choices 1, got %d", meta.MaxChoices)
	}

	// The fresh empty tally goes room-wide, presenter included.
	for _, connectionID := range []string{"presenter-1", "viewer-1"} {
		state := h.transport.lastPollState(t, connectionID)
		if state.PollID != "p1" {
			t.Fatalf("expected poll_state for p1, got %q", state.PollID)
		}
		if len(state.Votes) != 0 {
			t.Fatalf("expected empty tally, got %v", state.Votes)
		}
	}
}

func TestGetActivePollRepliesToCallerOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "presenter-1", store.RolePresenter)
	h.join(t, "viewer-1", store.RoleViewer)
	h.join(t, "viewer-2", store.RoleViewer)

	if _, err := h.engine.Get(ctx, "main", "presenter-1", PollGetRequest{PollID: "p1", VisitorID: "host", Options: []string{"A", "B"}}); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}
	if _, err := h.engine.Vote(ctx, "main", "viewer-1", PollVoteRequest{PollID: "p1", VisitorID: "v1", Choice: "A"}); err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}

	before := len(h.transport.sent("viewer-2"))
	ack, err := h.engine.Get(ctx, "main", "viewer-1", PollGetRequest{PollID: "p1", VisitorID: "v1"})
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if ack != AckOK {
		t.Fatalf("expected %q, got %q", AckOK, ack)
	}

	state := h.transport.lastPollState(t, "viewer-1")
	if state.Votes["A"] != 1 {
		t.Fatalf("expected tally A:1, got %v", state.Votes)
	}
	if len(state.MyChoices) != 1 || state.MyChoices[0] != "A" {
		t.Fatalf("expected caller's own choices, got %v", state.MyChoices)
	}
	if len(h.transport.sent("viewer-2")) != before {
		t.Fatal("get on an active poll must not broadcast")
	}
}

func TestVoteScenarioSingleChoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "presenter-1", store.RolePresenter)
	h.join(t, "conn-v1", store.RoleViewer)

	if _, err := h.engine.Get(ctx, "main", "presenter-1", PollGetRequest{PollID: "p1", VisitorID: "host", Options: []string{"A", "B"}, MaxChoices: 1}); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}

	ack, err := h.engine.Vote(ctx, "main", "conn-v1", PollVoteRequest{PollID: "p1", VisitorID: "v1", Choice: "A"})
	if err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}
	if ack != AckVoted {
		t.Fatalf("expected %q, got %q", AckVoted, ack)
	}
	if tally := h.tally(t, "p1"); tally["A"] != 1 {
		t.Fatalf("expected {A:1}, got %v", tally)
	}

	ack, err = h.engine.Vote(ctx, "main", "conn-v1", PollVoteRequest{PollID: "p1", VisitorID: "v1", Choice: "B"})
	if err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}
	if ack != AckMaxChoicesReached {
		t.Fatalf("expected %q, got %q", AckMaxChoicesReached, ack)
	}
	if tally := h.tally(t, "p1"); tally["A"] != 1 || tally["B"] != 0 {
		t.Fatalf("expected tally unchanged {A:1}, got %v", tally)
	}
	state := h.transport.lastPollState(t, "conn-v1")
	if state.Error != string(AckMaxChoicesReached) {
		t.Fatalf("expected state refresh carrying the rejection, got %q", state.Error)
	}

	ack, err = h.engine.Switch(ctx, "main", "conn-v1", PollSwitchRequest{PollID: "p1", VisitorID: "v1", FromChoice: "A", ToChoice: "B"})
	if err != nil {
		t.Fatalf("unexpected switch error: %v", err)
	}
	if ack != AckSwitched {
		t.Fatalf("expected %q, got %q", AckSwitched, ack)
	}
	if tally := h.tally(t, "p1"); tally["A"] != 0 || tally["B"] != 1 {
		t.Fatalf("expected {A:0 B:1}, got %v", tally)
	}

	ack, err = h.engine.Unvote(ctx, "main", "conn-v1", PollVoteRequest{PollID: "p1", VisitorID: "v1", Choice: "B"})
	if err != nil {
		t.Fatalf("unexpected unvote error: %v", err)
	}
	if ack != AckUnvoted {
		t.Fatalf("expected %q, got %q", AckUnvoted, ack)
	}
	if tally := h.tally(t, "p1"); tally["A"] != 0 || tally["B"] != 0 {
		t.Fatalf("expected {A:0 B:0}, got %v", tally)
	}
	if choices := h.choices(t, "p1", "v1"); len(choices) != 0 {
		t.Fatalf("expected no remaining records, got %v", choices)
	}
}

func TestVoteTwiceForSameChoiceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "presenter-1", store.RolePresenter)
	h.join(t, "conn-v1", store.RoleViewer)

	if _, err := h.engine.Get(ctx, "main", "presenter-1", PollGetRequest{PollID: "p1", VisitorID: "host", Options: []string{"A", "B"}, MaxChoices: 2}); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}
	if _, err := h.engine.Vote(ctx, "main", "conn-v1", PollVoteRequest{PollID: "p1", VisitorID: "v1", Choice: "A"}); err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}

	ack, err := h.engine.Vote(ctx, "main", "conn-v1", PollVoteRequest{PollID: "p1", VisitorID: "v1", Choice: "A"})
	if err != nil {
		t.Fatalf("duplicate vote must not be an error: %v", err)
	}
	if ack != AckAlreadyVoted {
		t.Fatalf("expected %q, got %q", AckAlreadyVoted, ack)
	}
	if tally := h.tally(t, "p1"); tally["A"] != 1 {
		t.Fatalf("expected tally unchanged {A:1}, got %v", tally)
	}
	if choices := h.choices(t, "p1", "v1"); len(choices) != 1 {
		t.Fatalf("expected a single record, got %v", choices)
	}
}

func TestVoteRejectsInvalidChoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "presenter-1", store.RolePresenter)
	h.join(t, "conn-v1", store.RoleViewer)

	if _, err := h.engine.Get(ctx, "main", "presenter-1", PollGetRequest{PollID: "p1", VisitorID: "host", Options: []string{"A", "B"}}); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}

	ack, err := h.engine.Vote(ctx, "main", "conn-v1", PollVoteRequest{PollID: "p1", VisitorID: "v1", Choice: "C"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack != AckInvalidChoice {
		t.Fatalf("expected %q, got %q", AckInvalidChoice, ack)
	}
	if choices := h.choices(t, "p1", "v1"); len(choices) != 0 {
		t.Fatalf("rejected vote must leave no record, got %v", choices)
	}
}

func TestVoteAgainstUninitializedPoll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "conn-v1", store.RoleViewer)

	ack, err := h.engine.Vote(ctx, "main", "conn-v1", PollVoteRequest{PollID: "missing", VisitorID: "v1", Choice: "A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack != AckPollNotInitialized {
		t.Fatalf("expected %q, got %q", AckPollNotInitialized, ack)
	}

	state := h.transport.lastPollState(t, "conn-v1")
	if state.Error != string(AckPollNotInitialized) {
		t.Fatalf("expected error echoed to caller, got %q", state.Error)
	}
}

func TestMaxChoicesNeverExceeded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "presenter-1", store.RolePresenter)
	h.join(t, "conn-v1", store.RoleViewer)

	if _, err := h.engine.Get(ctx, "main", "presenter-1", PollGetRequest{PollID: "p1", VisitorID: "host", Options: []string{"A", "B", "C"}, MaxChoices: 2}); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}

	for _, choice := range []string{"A", "B", "C"} {
		if _, err := h.engine.Vote(ctx, "main", "conn-v1", PollVoteRequest{PollID: "p1", VisitorID: "v1", Choice: choice}); err != nil {
			t.Fatalf("unexpected vote error: %v", err)
		}
	}

	if choices := h.choices(t, "p1", "v1"); len(choices) != 2 {
		t.Fatalf("expected visitor capped at 2 records, got %v", choices)
	}
}

func TestSwitchWithoutOldVote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "presenter-1", store.RolePresenter)
	h.join(t, "conn-v1", store.RoleViewer)

	if _, err := h.engine.Get(ctx, "main", "presenter-1", PollGetRequest{PollID: "p1", VisitorID: "host", Options: []string{"A", "B"}}); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}

	ack, err := h.engine.Switch(ctx, "main", "conn-v1", PollSwitchRequest{PollID: "p1", VisitorID: "v1", FromChoice: "A", ToChoice: "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack != AckOldVoteNotFound {
		t.Fatalf("expected %q, got %q", AckOldVoteNotFound, ack)
	}
	if tally := h.tally(t, "p1"); tally["A"] != 0 || tally["B"] != 0 {
		t.Fatalf("aborted switch must not touch the tally, got %v", tally)
	}
}

func TestSwitchToHeldChoiceRestoresOriginal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "presenter-1", store.RolePresenter)
	h.join(t, "conn-v1", store.RoleViewer)

	if _, err := h.engine.Get(ctx, "main", "presenter-1", PollGetRequest{PollID: "p1", VisitorID: "host", Options: []string{"A", "B"}, MaxChoices: 2}); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}
	for _, choice := range []string{"A", "B"} {
		if _, err := h.engine.Vote(ctx, "main", "conn-v1", PollVoteRequest{PollID: "p1", VisitorID: "v1", Choice: choice}); err != nil {
			t.Fatalf("unexpected vote error: %v", err)
		}
	}

	ack, err := h.engine.Switch(ctx, "main", "conn-v1", PollSwitchRequest{PollID: "p1", VisitorID: "v1", FromChoice: "A", ToChoice: "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack != AckAlreadyVotedTarget {
		t.Fatalf("expected %q, got %q", AckAlreadyVotedTarget, ack)
	}

	choices := h.choices(t, "p1", "v1")
	if len(choices) != 2 || choices[0] != "A" || choices[1] != "B" {
		t.Fatalf("expected original vote restored, got %v", choices)
	}
	if tally := h.tally(t, "p1"); tally["A"] != 1 || tally["B"] != 1 {
		t.Fatalf("failed switch must leave the tally untouched, got %v", tally)
	}
}

func TestVoteBroadcastExcludesCaller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "presenter-1", store.RolePresenter)
	h.join(t, "conn-v1", store.RoleViewer)
	h.join(t, "conn-v2", store.RoleViewer)

	if _, err := h.engine.Get(ctx, "main", "presenter-1", PollGetRequest{PollID: "p1", VisitorID: "host", Options: []string{"A", "B"}}); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}
	if _, err := h.engine.Vote(ctx, "main", "conn-v1", PollVoteRequest{PollID: "p1", VisitorID: "v1", Choice: "A"}); err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}

	// The audience sees the tally; only the caller gets their own choices.
	audienceState := h.transport.lastPollState(t, "conn-v2")
	if audienceState.Votes["A"] != 1 {
		t.Fatalf("expected broadcast tally A:1, got %v", audienceState.Votes)
	}
	if audienceState.MyChoices != nil {
		t.Fatalf("broadcast must not leak caller choices, got %v", audienceState.MyChoices)
	}

	callerState := h.transport.lastPollState(t, "conn-v1")
	if len(callerState.MyChoices) != 1 || callerState.MyChoices[0] != "A" {
		t.Fatalf("expected caller reply with own choices, got %v", callerState.MyChoices)
	}
}

func TestVoteRejectsOversizedInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	oversized := make([]byte, maxInputLength+1)
	for i := range oversized {
		oversized[i] = 'x'
	}

	ack, err := h.engine.Vote(ctx, "main", "conn-v1", PollVoteRequest{PollID: string(oversized), VisitorID: "v1", Choice: "A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack != Ack("Invalid "+EventPollVote) {
		t.Fatalf("expected validation rejection, got %q", ack)
	}
	if len(h.transport.sent("conn-v1")) != 0 {
		t.Fatal("validation failures must not push state")
	}
}
