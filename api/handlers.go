package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/slipway-hq/slipway/audit"
	"github.com/slipway-hq/slipway/cache"
	"github.com/slipway-hq/slipway/claim"
	"github.com/slipway-hq/slipway/leaderboard"
	"github.com/slipway-hq/slipway/perms"
	"github.com/slipway-hq/slipway/store"
)

type itemResponse struct {
	ID           int64      `json:"id"`
	ProjectName  string     `json:"project_name"`
	ProjectType  string     `json:"project_type"`
	Submitter    string     `json:"submitter"`
	Status       string     `json:"status"`
	ClaimantID   *int64     `json:"claimant_id,omitempty"`
	LeaseExpires *time.Time `json:"lease_expires,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (a *API) itemResponse(it *store.Item, now time.Time) itemResponse {
	resp := itemResponse{
		ID:          it.ID,
		ProjectName: it.ProjectName,
		ProjectType: it.ProjectType,
		Submitter:   it.Submitter,
		Status:      string(it.Status),
		CreatedAt:   it.CreatedAt,
	}
	if claim.Active(it, now, a.claims.Lease()) {
		resp.ClaimantID = it.ClaimantID
		expires := it.ClaimedAt.Add(a.claims.Lease())
		resp.LeaseExpires = &expires
	}
	return resp
}

// ListItems returns queue items, filterable by status and project type.
func (a *API) ListItems(w http.ResponseWriter, r *http.Request) {
	u := requestUser(r)
	if !a.require(w, u, perms.ReviewsView) {
		return
	}

	f := store.ItemFilter{
		Status:      store.ItemStatus(r.URL.Query().Get("status")),
		ProjectType: r.URL.Query().Get("type"),
		OldestFirst: r.URL.Query().Get("order") == "oldest",
	}
	items, err := a.store.ListItems(r.Context(), f)
	if err != nil {
		mapError(w, err)
		return
	}

	now := a.nowF()
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, a.itemResponse(it, now))
	}
	writeJSON(w, http.StatusOK, out)
}

type leaseResponse struct {
	Item      itemResponse `json:"item"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// ClaimItem takes the review lease on an item for the caller.
func (a *API) ClaimItem(w http.ResponseWriter, r *http.Request) {
	u := requestUser(r)
	if !a.require(w, u, perms.ClaimsEdit) {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	it, err := a.claims.Claim(r.Context(), itemID, u.ID)
	if err != nil {
		mapError(w, err)
		return
	}

	a.audit.User(r.Context(), audit.ItemClaimed, u.ID, slog.Int64("item_id", itemID))
	writeJSON(w, http.StatusOK, leaseResponse{
		Item:      a.itemResponse(it, a.nowF()),
		ExpiresAt: it.ClaimedAt.Add(a.claims.Lease()),
	})
}

// ReleaseItem clears the caller's lease. With ?override=1 and the override
// capability, any lease is cleared.
func (a *API) ReleaseItem(w http.ResponseWriter, r *http.Request) {
	u := requestUser(r)
	if !a.require(w, u, perms.ClaimsEdit) {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	override := r.URL.Query().Get("override") == "1"
	if override && !a.require(w, u, perms.ClaimsOverride) {
		return
	}

	if err := a.claims.Release(r.Context(), itemID, u.ID, override); err != nil {
		mapError(w, err)
		return
	}

	event := audit.ClaimReleased
	if override {
		event = audit.ClaimOverride
	}
	a.audit.User(r.Context(), event, u.ID, slog.Int64("item_id", itemID))
	w.WriteHeader(http.StatusNoContent)
}

type decisionRequest struct {
	Verdict string `json:"verdict"`
}

type decisionResponse struct {
	ID         string  `json:"id"`
	ItemID     int64   `json:"item_id"`
	Verdict    string  `json:"verdict"`
	Payout     float64 `json:"payout"`
	Multiplier float64 `json:"multiplier"`
}

// RecordDecision applies an approve/reject verdict to an item. Rate limited
// per user to keep one account from flushing the queue.
func (a *API) RecordDecision(w http.ResponseWriter, r *http.Request) {
	u := requestUser(r)
	if !a.require(w, u, perms.ReviewsDecide) {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	if res := a.decisionLimit(strconv.FormatInt(u.ID, 10)); !res.Allowed {
		writeRateLimited(w, res.ResetAt, a.nowF())
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	verdict := store.Verdict(req.Verdict)
	if verdict != store.VerdictApproved && verdict != store.VerdictRejected {
		writeError(w, http.StatusBadRequest, "verdict must be approved or rejected")
		return
	}

	d, err := a.reviews.Record(r.Context(), itemID, u.ID, verdict)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		ID:         d.ID,
		ItemID:     d.ItemID,
		Verdict:    string(d.Verdict),
		Payout:     d.Payout,
		Multiplier: d.Multiplier,
	})
}

// Stats serves the queue aggregate through the TTL cache; concurrent misses
// may each compute it, and mutations show up once the entry expires.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	u := requestUser(r)
	if !a.require(w, u, perms.StatsView) {
		return
	}

	key := cache.Key("queue-stats", nil)
	stats, err := cache.GetOrCompute(r.Context(), a.cache, key, statsTTL,
		func(ctx context.Context) (*store.QueueStats, error) {
			return a.store.Stats(ctx, a.nowF())
		})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Leaderboard serves the current week's ranking through the TTL cache.
func (a *API) Leaderboard(w http.ResponseWriter, r *http.Request) {
	u := requestUser(r)
	if !a.require(w, u, perms.StatsView) {
		return
	}

	start, end := leaderboard.WeekWindow(a.nowF())
	key := cache.Key("leaderboard", map[string]string{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	})
	entries, err := cache.GetOrCompute(r.Context(), a.cache, key, leaderboardTTL,
		func(ctx context.Context) ([]leaderboard.Entry, error) {
			return a.ranker.Rank(ctx, start, end)
		})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
