package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportsbook-settlement-backend/internal/config"
	"sportsbook-settlement-backend/internal/models"
	"sportsbook-settlement-backend/internal/services"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	notifs []*models.Notification
}

func (b *captureBroadcaster) NotifyUser(userID string, n *models.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifs = append(b.notifs, n)
}

func (b *captureBroadcaster) titled(title string) []*models.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.Notification
	for _, n := range b.notifs {
		if n.Title == title {
			out = append(out, n)
		}
	}
	return out
}

// resultsFeed serves a mutable result batch in the upstream wire shape.
type resultsFeed struct {
	mu      sync.Mutex
	results []map[string]any
}

func (f *resultsFeed) set(results ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = results
}

func (f *resultsFeed) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"results": f.results},
		})
	})
}

func feedResult(id string, ftHome, ftAway, htHome, htAway int) map[string]any {
	return map[string]any{
		"id":        id,
		"result_ft": map[string]int{"home": ftHome, "away": ftAway},
		"result_ht": map[string]int{"home": htHome, "away": htAway},
	}
}

func newTestEngine(t *testing.T, store *services.RedisService, feedURL string) (*services.SettlementEngine, *captureBroadcaster) {
	t.Helper()
	cfg := &config.Config{
		ResultsFeedURL: feedURL,
		LiveFeedURL:    feedURL,
		PayoutCeiling:  1_000_000_000,
	}
	broadcaster := &captureBroadcaster{}
	fetcher := services.NewFetchClientWith(1, 0, time.Second)
	return services.NewSettlementEngine(store, fetcher, cfg, broadcaster), broadcaster
}

func testMatchID() string {
	return fmt.Sprintf("test-match-%d", uuid.New().ID())
}

func TestSettleTickets_AtMostOnce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()
	matchID := testMatchID()

	feed := &resultsFeed{}
	feed.set(feedResult(matchID, 2, 1, 1, 0))
	server := httptest.NewServer(feed.handler())
	defer server.Close()

	seedAccount(t, store, &models.Account{UserID: userID, Balance: 0})
	seedTicket(t, store, &models.Ticket{
		ID:              models.GenerateTicketID(),
		UserID:          userID,
		Kind:            models.TicketKindVirtual,
		Stake:           1000,
		PotentialReturn: 3500,
		Status:          models.TicketStatusPending,
		Legs:            []models.Leg{{MatchID: matchID, Selection: "FT: 1", Odds: 3.5}},
	})

	engine, broadcaster := newTestEngine(t, store, server.URL)

	processed, err := engine.SettleTickets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// An immediate second pass over the same set must credit nothing.
	processed, err = engine.SettleTickets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	acct, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), acct.Balance, "payout must be credited exactly once")

	assert.Len(t, broadcaster.titled("Ticket Won! 🎉"), 1)
}

func TestSettleTickets_PayoutCap(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()
	matchID := testMatchID()

	feed := &resultsFeed{}
	feed.set(feedResult(matchID, 1, 1, 0, 0))
	server := httptest.NewServer(feed.handler())
	defer server.Close()

	seedAccount(t, store, &models.Account{UserID: userID, Balance: 0})
	seedTicket(t, store, &models.Ticket{
		ID:              models.GenerateTicketID(),
		UserID:          userID,
		Kind:            models.TicketKindVirtual,
		Stake:           1000,
		PotentialReturn: 5_000_000_000,
		Status:          models.TicketStatusPending,
		Legs:            []models.Leg{{MatchID: matchID, Selection: "FT: X", Odds: 5_000_000}},
	})

	engine, _ := newTestEngine(t, store, server.URL)

	_, err := engine.SettleTickets(ctx)
	require.NoError(t, err)

	acct, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), acct.Balance, "credit must never exceed the ceiling")
}

func TestSettleTickets_LostTicketCreditsNothing(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()
	matchID := testMatchID()

	feed := &resultsFeed{}
	feed.set(feedResult(matchID, 0, 2, 0, 1))
	server := httptest.NewServer(feed.handler())
	defer server.Close()

	seedAccount(t, store, &models.Account{UserID: userID, Balance: 500})
	ticket := &models.Ticket{
		ID:              models.GenerateTicketID(),
		UserID:          userID,
		Kind:            models.TicketKindSportsbook,
		Stake:           1000,
		PotentialReturn: 2000,
		Status:          models.TicketStatusPending,
		Legs:            []models.Leg{{MatchID: matchID, Selection: "FT: 1", Odds: 2.0}},
	}
	seedTicket(t, store, ticket)

	engine, broadcaster := newTestEngine(t, store, server.URL)

	processed, err := engine.SettleTickets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	acct, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), acct.Balance)

	stored, err := store.GetTicket(ctx, userID, ticket.Kind, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusLost, stored.Status)

	assert.Empty(t, broadcaster.titled("Ticket Won! 🎉"))
}

func TestSettleTickets_ReferralUnlock(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()
	matchID := testMatchID()

	feed := &resultsFeed{}
	feed.set(feedResult(matchID, 3, 0, 1, 0))
	server := httptest.NewServer(feed.handler())
	defer server.Close()

	seedAccount(t, store, &models.Account{UserID: userID, Balance: 1000, LockedReferral: 400})
	seedTicket(t, store, &models.Ticket{
		ID:              models.GenerateTicketID(),
		UserID:          userID,
		Kind:            models.TicketKindVirtual,
		Stake:           100,
		PotentialReturn: 200,
		Status:          models.TicketStatusPending,
		Legs:            []models.Leg{{MatchID: matchID, Selection: "FT: 1", Odds: 2.0}},
	})

	engine, broadcaster := newTestEngine(t, store, server.URL)

	_, err := engine.SettleTickets(ctx)
	require.NoError(t, err)

	acct, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, acct.LockedReferral, "locked referral must unlock on first win")
	assert.Equal(t, int64(1200), acct.Balance)

	// Exactly one unlock notification per unlock event, even after a
	// second winning ticket.
	assert.Len(t, broadcaster.titled("Referral Bonus Unlocked"), 1)

	seedTicket(t, store, &models.Ticket{
		ID:              models.GenerateTicketID(),
		UserID:          userID,
		Kind:            models.TicketKindVirtual,
		Stake:           100,
		PotentialReturn: 200,
		Status:          models.TicketStatusPending,
		Legs:            []models.Leg{{MatchID: matchID, Selection: "FT: 1", Odds: 2.0}},
	})

	_, err = engine.SettleTickets(ctx)
	require.NoError(t, err)
	assert.Len(t, broadcaster.titled("Referral Bonus Unlocked"), 1)
}

func TestSettleTickets_HistoryFallback(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()
	matchID := testMatchID()

	// The match has rolled off the live feed; only history knows it.
	require.NoError(t, store.SaveResultHistory(ctx, &models.MatchResult{
		ID:       models.MatchID(matchID),
		FullTime: models.Score{Home: 2, Away: 2},
		HalfTime: models.Score{Home: 1, Away: 1},
	}))

	feed := &resultsFeed{}
	server := httptest.NewServer(feed.handler())
	defer server.Close()

	seedAccount(t, store, &models.Account{UserID: userID, Balance: 0})
	seedTicket(t, store, &models.Ticket{
		ID:              models.GenerateTicketID(),
		UserID:          userID,
		Kind:            models.TicketKindVirtual,
		Stake:           100,
		PotentialReturn: 300,
		Status:          models.TicketStatusPending,
		Legs:            []models.Leg{{MatchID: matchID, Selection: "FT: X", Odds: 3.0}},
	})

	engine, _ := newTestEngine(t, store, server.URL)

	processed, err := engine.SettleTickets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	acct, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), acct.Balance)
}

func TestSettleTickets_MissingResultStaysPending(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()

	feed := &resultsFeed{}
	server := httptest.NewServer(feed.handler())
	defer server.Close()

	seedAccount(t, store, &models.Account{UserID: userID, Balance: 0})
	ticket := &models.Ticket{
		ID:              models.GenerateTicketID(),
		UserID:          userID,
		Kind:            models.TicketKindSportsbook,
		Stake:           100,
		PotentialReturn: 150,
		Status:          models.TicketStatusPending,
		Legs:            []models.Leg{{MatchID: testMatchID(), Selection: "FT: 1", Odds: 1.5}},
	}
	seedTicket(t, store, ticket)

	engine, _ := newTestEngine(t, store, server.URL)

	_, err := engine.SettleTickets(ctx)
	require.NoError(t, err)

	stored, err := store.GetTicket(ctx, userID, ticket.Kind, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPending, stored.Status)
}

func TestFetchLiveMatches_WritesSnapshot(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"matches": [{"id": 1}, {"id": 2}]}}`))
	}))
	defer server.Close()

	engine, _ := newTestEngine(t, store, server.URL)

	count, err := engine.FetchLiveMatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	cached, _, err := store.LatestLiveSnapshot(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": {"matches": [{"id": 1}, {"id": 2}]}}`, string(cached))
}

func TestExtractResults(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id": 1, "result_ft": {"home": 1, "away": 0}}]`, 1},
		{"results field", `{"results": [{"id": "a"}, {"id": "b"}]}`, 2},
		{"data array", `{"data": [{"id": 1}]}`, 1},
		{"data.results", `{"data": {"results": [{"id": 1}, {"id": 2}, {"id": 3}]}}`, 3},
		{"missing id skipped", `{"results": [{"result_ft": {"home": 1, "away": 0}}]}`, 0},
		{"empty object", `{}`, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			results := services.ExtractResults(json.RawMessage(tc.body))
			assert.Len(t, results, tc.want)
		})
	}
}
