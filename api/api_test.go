package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-hq/slipway/audit"
	"github.com/slipway-hq/slipway/cache"
	"github.com/slipway-hq/slipway/claim"
	"github.com/slipway-hq/slipway/internal/util"
	"github.com/slipway-hq/slipway/leaderboard"
	"github.com/slipway-hq/slipway/ratelimit"
	"github.com/slipway-hq/slipway/review"
	"github.com/slipway-hq/slipway/session"
	"github.com/slipway-hq/slipway/store"
	"github.com/slipway-hq/slipway/store/memory"
)

type testEnv struct {
	api   *API
	store *memory.Store
	srv   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := memory.New()
	c := cache.NewMemory(0)
	t.Cleanup(c.Close)
	limiter := ratelimit.New(0)
	t.Cleanup(limiter.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewManager(st, c, nil, session.WithLogger(log))
	claims := claim.NewManager(st)
	ranker := leaderboard.NewRanker(st, 0)
	reviews := review.NewService(st, ranker, audit.New(log), claim.DefaultLease)

	a := New(st, sessions, claims, reviews, ranker, c, limiter, WithLogger(log))
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)

	return &testEnv{api: a, store: st, srv: srv}
}

func (e *testEnv) addUser(t *testing.T, username, password, role string) *store.User {
	t.Helper()
	hash, salt, err := util.HashPassword(password, util.DefaultArgon2idParams())
	require.NoError(t, err)
	u := &store.User{
		Username: username, Role: role, Active: true,
		PasswordHash: hash, PasswordSalt: salt,
	}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u
}

func (e *testEnv) addItem(t *testing.T, age time.Duration) *store.Item {
	t.Helper()
	it := &store.Item{
		ProjectName: "wren", ProjectType: "CLI", Status: store.StatusPending,
		CreatedAt: time.Now().Add(-age),
	}
	require.NoError(t, e.store.CreateItem(context.Background(), it))
	return it
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	resp := e.request(t, http.MethodPost, "/login", "", loginRequest{Username: username, Password: password})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestLoginLogout(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "ana", "hunter2hunter2", "reviewer")

	token := e.login(t, "ana", "hunter2hunter2")
	require.NotEmpty(t, token)

	resp := e.request(t, http.MethodGet, "/items", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/logout", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/items", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_BadCredentials(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "ana", "hunter2hunter2", "reviewer")

	resp := e.request(t, http.MethodPost, "/login", "", loginRequest{Username: "ana", Password: "wrong"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/login", "", loginRequest{Username: "ghost", Password: "whatever"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_NormalizesUsername(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "ana", "hunter2hunter2", "reviewer")

	token := e.login(t, "  ANA ", "hunter2hunter2")
	assert.NotEmpty(t, token)
}

func TestLogin_RateLimited(t *testing.T) {
	e := newTestEnv(t)

	var last *http.Response
	for i := 0; i < loginMaxPerWindow+1; i++ {
		if last != nil {
			last.Body.Close()
		}
		last = e.request(t, http.MethodPost, "/login", "", loginRequest{Username: "ghost", Password: "x"})
	}
	defer last.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get("Retry-After"))
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)

	resp := e.request(t, http.MethodGet, "/items", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/items", "bogus-token", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClaimFlow(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "ana", "hunter2hunter2", "reviewer")
	e.addUser(t, "bo", "hunter2hunter2", "reviewer")
	item := e.addItem(t, 10*time.Hour)

	anaTok := e.login(t, "ana", "hunter2hunter2")
	boTok := e.login(t, "bo", "hunter2hunter2")

	resp := e.request(t, http.MethodPost, itemPath(item.ID, "/claim"), anaTok, nil)
	var lease leaseResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lease))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, item.ID, lease.Item.ID)

	// Bo's claim conflicts and names the holder.
	resp = e.request(t, http.MethodPost, itemPath(item.ID, "/claim"), boTok, nil)
	var conflict ClaimConflictResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conflict))
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ana", conflict.Holder)
	assert.False(t, conflict.ExpiresAt.IsZero())

	// Bo cannot release Ana's lease without override.
	resp = e.request(t, http.MethodDelete, itemPath(item.ID, "/claim"), boTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Ana releases; Bo can now claim.
	resp = e.request(t, http.MethodDelete, itemPath(item.ID, "/claim"), anaTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.request(t, http.MethodPost, itemPath(item.ID, "/claim"), boTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelease_OverrideNeedsCapability(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "ana", "hunter2hunter2", "reviewer")
	e.addUser(t, "lena", "hunter2hunter2", "lead")
	item := e.addItem(t, 10*time.Hour)

	anaTok := e.login(t, "ana", "hunter2hunter2")
	lenaTok := e.login(t, "lena", "hunter2hunter2")

	resp := e.request(t, http.MethodPost, itemPath(item.ID, "/claim"), anaTok, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A reviewer asking for override is refused outright.
	resp = e.request(t, http.MethodDelete, itemPath(item.ID, "/claim")+"?override=1", anaTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// A lead can override someone else's lease.
	resp = e.request(t, http.MethodDelete, itemPath(item.ID, "/claim")+"?override=1", lenaTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRecordDecision(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "ana", "hunter2hunter2", "reviewer")
	item := e.addItem(t, 10*time.Hour)
	anaTok := e.login(t, "ana", "hunter2hunter2")

	resp := e.request(t, http.MethodPost, itemPath(item.ID, "/decision"), anaTok, decisionRequest{Verdict: "approved"})
	var d decisionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", d.Verdict)
	assert.Greater(t, d.Payout, 0.0)

	// Second decision on the same item conflicts.
	resp = e.request(t, http.MethodPost, itemPath(item.ID, "/decision"), anaTok, decisionRequest{Verdict: "rejected"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRecordDecision_BadVerdict(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "ana", "hunter2hunter2", "reviewer")
	item := e.addItem(t, 10*time.Hour)
	anaTok := e.login(t, "ana", "hunter2hunter2")

	resp := e.request(t, http.MethodPost, itemPath(item.ID, "/decision"), anaTok, decisionRequest{Verdict: "maybe"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestObserverCannotDecideOrClaim(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "olly", "hunter2hunter2", "observer")
	item := e.addItem(t, 10*time.Hour)
	tok := e.login(t, "olly", "hunter2hunter2")

	resp := e.request(t, http.MethodPost, itemPath(item.ID, "/claim"), tok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.request(t, http.MethodPost, itemPath(item.ID, "/decision"), tok, decisionRequest{Verdict: "approved"})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Observers may still read.
	resp = e.request(t, http.MethodGet, "/items", tok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsAndLeaderboard(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "ana", "hunter2hunter2", "reviewer")
	item := e.addItem(t, 10*time.Hour)
	tok := e.login(t, "ana", "hunter2hunter2")

	resp := e.request(t, http.MethodPost, itemPath(item.ID, "/decision"), tok, decisionRequest{Verdict: "approved"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/stats", tok, nil)
	var stats store.QueueStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, stats.Approved)

	resp = e.request(t, http.MethodGet, "/leaderboard", tok, nil)
	var entries []leaderboard.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, entries, 1)
	assert.Equal(t, 1.75, entries[0].Multiplier)
}

func TestUserAdmin(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "root", "hunter2hunter2", "admin")
	rootTok := e.login(t, "root", "hunter2hunter2")

	resp := e.request(t, http.MethodPost, "/users", rootTok, createUserRequest{
		Username: "nia", Password: "hunter2hunter2", Role: "reviewer",
	})
	var created userResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	niaTok := e.login(t, "nia", "hunter2hunter2")

	// Deactivation kills the account and its sessions.
	resp = e.request(t, http.MethodPost, userPath(created.ID, "/deactivate"), rootTok, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/items", niaTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUserAdmin_RequiresCapability(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "ana", "hunter2hunter2", "reviewer")
	tok := e.login(t, "ana", "hunter2hunter2")

	resp := e.request(t, http.MethodPost, "/users", tok, createUserRequest{
		Username: "mallory", Password: "x", Role: "admin",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func itemPath(id int64, suffix string) string {
	return "/items/" + strconv.FormatInt(id, 10) + suffix
}

func userPath(id int64, suffix string) string {
	return "/users/" + strconv.FormatInt(id, 10) + suffix
}
