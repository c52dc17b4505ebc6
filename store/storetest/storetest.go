// Package storetest provides a conformance suite run against every
// store.Store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slipway-hq/slipway/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the common suite against the backend produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("ClaimLifecycle", func(t *testing.T) { testClaimLifecycle(t, newStore(t)) })
	t.Run("Decisions", func(t *testing.T) { testDecisions(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
}

func mustCreateUser(t *testing.T, s store.Store, username string) *store.User {
	t.Helper()
	u := &store.User{Username: username, Role: "reviewer", Active: true}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	return u
}

func mustCreateItem(t *testing.T, s store.Store, name string, createdAt time.Time) *store.Item {
	t.Helper()
	it := &store.Item{ProjectName: name, ProjectType: "CLI", Submitter: "sub", CreatedAt: createdAt}
	if err := s.CreateItem(context.Background(), it); err != nil {
		t.Fatalf("creating item %s: %v", name, err)
	}
	return it
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	u := mustCreateUser(t, s, "alice")
	if u.ID == 0 {
		t.Fatal("expected assigned user ID")
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "alice" || !got.Active {
		t.Fatalf("got %+v", got)
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil || byName.ID != u.ID {
		t.Fatalf("GetUserByUsername: %v, %+v", err, byName)
	}

	if err := s.CreateUser(ctx, &store.User{Username: "alice"}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if _, err := s.GetUser(ctx, 9999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.Active {
		t.Fatal("expected user inactive")
	}

	exp := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	if err := s.SetUserSessionMirror(ctx, u.ID, "tok-1", &exp); err != nil {
		t.Fatalf("SetUserSessionMirror: %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.SessionToken != "tok-1" || got.SessionExpires == nil {
		t.Fatalf("mirror not set: %+v", got)
	}
	if err := s.SetUserSessionMirror(ctx, u.ID, "", nil); err != nil {
		t.Fatalf("clearing mirror: %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.SessionToken != "" || got.SessionExpires != nil {
		t.Fatalf("mirror not cleared: %+v", got)
	}

	seen := time.Now().UTC().Truncate(time.Second)
	if err := s.TouchLastSeen(ctx, u.ID, seen); err != nil {
		t.Fatalf("TouchLastSeen: %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Fatalf("last seen not touched: %+v", got.LastSeen)
	}
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s, "bob")
	now := time.Now().UTC().Truncate(time.Second)

	sess := &store.Session{
		Token:     "tok-bob-1",
		UserID:    u.ID,
		Device:    "cli",
		IP:        "10.0.0.1",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession(ctx, "tok-bob-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UserID != u.ID || got.Device != "cli" {
		t.Fatalf("got %+v", got)
	}

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	newExp := now.Add(48 * time.Hour)
	if err := s.ExtendSession(ctx, "tok-bob-1", newExp); err != nil {
		t.Fatalf("ExtendSession: %v", err)
	}
	got, _ = s.GetSession(ctx, "tok-bob-1")
	if !got.ExpiresAt.Equal(newExp) {
		t.Fatalf("expiry not extended: %v", got.ExpiresAt)
	}

	// Second session for the same user, already expired.
	expired := &store.Session{Token: "tok-bob-2", UserID: u.ID, IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	if err := s.CreateSession(ctx, expired); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	list, err := s.ListSessionsByUser(ctx, u.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListSessionsByUser: %v, %d sessions", err, len(list))
	}

	removed, err := s.DeleteExpiredSessions(ctx, now)
	if err != nil || removed != 1 {
		t.Fatalf("DeleteExpiredSessions: %v, removed %d", err, removed)
	}
	if _, err := s.GetSession(ctx, "tok-bob-2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected expired session gone, got %v", err)
	}

	if err := s.DeleteSession(ctx, "tok-bob-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, "tok-bob-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted session gone, got %v", err)
	}
}

func testClaimLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	lease := 30 * time.Minute
	now := time.Now().UTC().Truncate(time.Second)

	a := mustCreateUser(t, s, "claimer-a")
	b := mustCreateUser(t, s, "claimer-b")
	it := mustCreateItem(t, s, "proj", now.Add(-time.Hour))

	claimed, err := s.ClaimItem(ctx, it.ID, a.ID, now, lease)
	if err != nil {
		t.Fatalf("claim by A: %v", err)
	}
	if claimed.ClaimantID == nil || *claimed.ClaimantID != a.ID {
		t.Fatalf("claimant not set: %+v", claimed)
	}

	// B is rejected while A's lease is active, and learns the holder + expiry.
	_, err = s.ClaimItem(ctx, it.ID, b.ID, now.Add(10*time.Minute), lease)
	var conflict *store.ClaimConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ClaimConflictError, got %v", err)
	}
	if conflict.HolderID != a.ID {
		t.Fatalf("conflict holder = %d, want %d", conflict.HolderID, a.ID)
	}
	if !conflict.ExpiresAt.Equal(claimed.ClaimedAt.Add(lease)) {
		t.Fatalf("conflict expiry = %v", conflict.ExpiresAt)
	}

	// A re-claims its own lease: success, lease timestamp untouched.
	reclaimed, err := s.ClaimItem(ctx, it.ID, a.ID, now.Add(10*time.Minute), lease)
	if err != nil {
		t.Fatalf("re-claim by holder: %v", err)
	}
	if !reclaimed.ClaimedAt.Equal(*claimed.ClaimedAt) {
		t.Fatal("re-claim must not refresh the lease")
	}

	// After expiry B succeeds.
	taken, err := s.ClaimItem(ctx, it.ID, b.ID, now.Add(lease+time.Minute), lease)
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if *taken.ClaimantID != b.ID {
		t.Fatalf("claimant = %d, want %d", *taken.ClaimantID, b.ID)
	}

	// Release by non-holder fails, by holder succeeds.
	if err := s.ReleaseItem(ctx, it.ID, a.ID, false); !errors.Is(err, store.ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
	if err := s.ReleaseItem(ctx, it.ID, b.ID, false); err != nil {
		t.Fatalf("release by holder: %v", err)
	}
	got, _ := s.GetItem(ctx, it.ID)
	if got.ClaimantID != nil {
		t.Fatal("lease not cleared")
	}

	// Forced release works regardless of holder.
	if _, err := s.ClaimItem(ctx, it.ID, a.ID, now.Add(lease+2*time.Minute), lease); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ReleaseItem(ctx, it.ID, b.ID, true); err != nil {
		t.Fatalf("forced release: %v", err)
	}

	if _, err := s.ClaimItem(ctx, 9999, a.ID, now, lease); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testDecisions(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	lease := 30 * time.Minute

	a := mustCreateUser(t, s, "rev-a")
	b := mustCreateUser(t, s, "rev-b")
	it := mustCreateItem(t, s, "decide-me", now.Add(-time.Hour))

	if _, err := s.ClaimItem(ctx, it.ID, a.ID, now, lease); err != nil {
		t.Fatalf("claim: %v", err)
	}

	d := &store.Decision{
		ID:          "dec-1",
		ItemID:      it.ID,
		ReviewerID:  b.ID, // decided by someone other than the holder
		Verdict:     store.VerdictApproved,
		Base:        1,
		WaitMult:    1,
		VerdictMult: 1,
		Multiplier:  1.5,
		DailyMult:   1,
		Payout:      1.5,
		DecidedAt:   now.Add(5 * time.Minute),
	}
	if err := s.RecordDecision(ctx, d); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}

	// The decision resolves the item and clears the lease atomically, even
	// though the decider was not the claim holder.
	got, _ := s.GetItem(ctx, it.ID)
	if got.Status != store.StatusApproved {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ClaimantID != nil || got.ClaimedAt != nil {
		t.Fatal("lease not cleared by decision")
	}
	if got.ReviewerID == nil || *got.ReviewerID != b.ID {
		t.Fatalf("reviewer = %v", got.ReviewerID)
	}

	// Resolved items reject further decisions and claims.
	if err := s.RecordDecision(ctx, &store.Decision{ID: "dec-2", ItemID: it.ID, ReviewerID: a.ID, Verdict: store.VerdictRejected, DecidedAt: now}); !errors.Is(err, store.ErrItemResolved) {
		t.Fatalf("expected ErrItemResolved, got %v", err)
	}
	if _, err := s.ClaimItem(ctx, it.ID, a.ID, now, lease); !errors.Is(err, store.ErrItemResolved) {
		t.Fatalf("expected ErrItemResolved, got %v", err)
	}

	// The stored multiplier is immutable once written.
	stored, err := s.GetDecision(ctx, "dec-1")
	if err != nil {
		t.Fatalf("GetDecision: %v", err)
	}
	if stored.Multiplier != 1.5 {
		t.Fatalf("multiplier = %v", stored.Multiplier)
	}

	// More decisions land in the same window; the stored value must not move.
	it2 := mustCreateItem(t, s, "later", now)
	if err := s.RecordDecision(ctx, &store.Decision{ID: "dec-3", ItemID: it2.ID, ReviewerID: a.ID, Verdict: store.VerdictApproved, Multiplier: 1.75, DecidedAt: now.Add(10 * time.Minute)}); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	stored, _ = s.GetDecision(ctx, "dec-1")
	if stored.Multiplier != 1.5 {
		t.Fatalf("stored multiplier changed to %v", stored.Multiplier)
	}

	counts, err := s.DecisionCounts(ctx, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("DecisionCounts: %v", err)
	}
	byID := map[int64]int{}
	for _, c := range counts {
		byID[c.ReviewerID] = c.Count
	}
	if byID[a.ID] != 1 || byID[b.ID] != 1 {
		t.Fatalf("counts = %v", byID)
	}

	n, err := s.CountDecisionsByReviewer(ctx, b.ID, now, now.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("CountDecisionsByReviewer: %v, %d", err, n)
	}
	// Window boundaries are [start, end).
	n, _ = s.CountDecisionsByReviewer(ctx, b.ID, now.Add(6*time.Minute), now.Add(time.Hour))
	if n != 0 {
		t.Fatalf("expected 0 in later window, got %d", n)
	}
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	u := mustCreateUser(t, s, "stats-rev")

	mustCreateItem(t, s, "old-pending", now.Add(-48*time.Hour))
	mustCreateItem(t, s, "fresh-pending", now)
	decided := mustCreateItem(t, s, "decided-today", now.Add(-2*time.Hour))

	if err := s.RecordDecision(ctx, &store.Decision{ID: "st-1", ItemID: decided.ID, ReviewerID: u.ID, Verdict: store.VerdictApproved, DecidedAt: now}); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}

	st, err := s.Stats(ctx, now)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Pending != 2 || st.Approved != 1 || st.Rejected != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if st.DecisionsToday != 1 {
		t.Fatalf("decisions today = %d", st.DecisionsToday)
	}
	if st.ApprovalRate != 100 {
		t.Fatalf("approval rate = %v", st.ApprovalRate)
	}

	n, err := s.CountPendingOlderThan(ctx, now.Add(-8*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("CountPendingOlderThan: %v, %d", err, n)
	}
}
