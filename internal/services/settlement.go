package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"sportsbook-settlement-backend/internal/config"
	"sportsbook-settlement-backend/internal/models"
	"sportsbook-settlement-backend/internal/settlement"
)

// SettlementEngine reconciles pending tickets against fetched match
// results and applies the financial consequence exactly once per ticket.
type SettlementEngine struct {
	store       *RedisService
	fetcher     *FetchClient
	cfg         *config.Config
	broadcaster Broadcaster
}

func NewSettlementEngine(store *RedisService, fetcher *FetchClient, cfg *config.Config, broadcaster Broadcaster) *SettlementEngine {
	return &SettlementEngine{
		store:       store,
		fetcher:     fetcher,
		cfg:         cfg,
		broadcaster: broadcaster,
	}
}

// SettleTickets runs one reconciliation pass over every pending ticket
// of every account, both sportsbook and virtual collections. Returns
// the number of committed ticket transitions.
func (e *SettlementEngine) SettleTickets(ctx context.Context) (int, error) {
	raw, err := e.fetcher.FetchJSON(ctx, e.cfg.ResultsFeedURL)
	if err != nil {
		return 0, fmt.Errorf("results feed unavailable: %w", err)
	}

	results := ExtractResults(raw)

	// History is written for every fetched result, regardless of whether
	// any ticket needs it this pass, so a result that rolls off the live
	// window can still settle legs later.
	now := time.Now().UnixMilli()
	for i := range results {
		results[i].FetchedAt = now
		if err := e.store.SaveResultHistory(ctx, &results[i]); err != nil {
			log.Printf("Failed to persist result history for match %s: %v", results[i].ID, err)
		}
	}

	batch := make(map[string]models.MatchResult, len(results))
	for _, r := range results {
		batch[string(r.ID)] = r
	}

	lookup := func(matchID string) (models.MatchResult, bool) {
		if r, ok := batch[matchID]; ok {
			return r, true
		}
		r, err := e.store.GetResultHistory(ctx, matchID)
		if err != nil {
			return models.MatchResult{}, false
		}
		return *r, true
	}

	userIDs, err := e.store.ListAccountIDs(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, userID := range userIDs {
		for _, kind := range []models.TicketKind{models.TicketKindVirtual, models.TicketKindSportsbook} {
			tickets, err := e.store.ListTickets(ctx, userID, kind)
			if err != nil {
				log.Printf("Failed to list %s tickets for %s: %v", kind, userID, err)
				continue
			}
			for _, ticket := range tickets {
				committed, err := e.settleOne(ctx, ticket, lookup)
				if err != nil {
					// One bad ticket must never abort the batch.
					log.Printf("Error processing ticket %s/%s: %v", userID, ticket.ID, err)
					continue
				}
				if committed {
					processed++
				}
			}
		}
	}

	if processed > 0 {
		log.Printf("Settlement pass: processed %d tickets", processed)
	}
	return processed, nil
}

func (e *SettlementEngine) settleOne(ctx context.Context, ticket *models.Ticket, lookup settlement.ResultLookup) (bool, error) {
	if ticket.Settled() {
		return false, nil
	}

	res := settlement.ResolveTicket(*ticket, lookup)
	for _, ge := range res.GrammarErrors {
		log.Printf("Ticket %s/%s has a leg that cannot settle: %v", ticket.UserID, ticket.ID, ge)
	}
	if res.Status == models.TicketStatusPending {
		return false, nil
	}

	committed, err := e.store.TransitionTicket(ctx, ticket.UserID, ticket.Kind, ticket.ID, res.Status, res.Legs)
	if err != nil {
		return false, err
	}
	if !committed || res.Status != models.TicketStatusWon {
		return committed, nil
	}

	payout := settlement.CappedPayout(ticket.PotentialReturn, e.cfg.PayoutCeiling)
	if _, err := e.store.UpdateAccount(ctx, ticket.UserID, func(acct *models.Account) error {
		acct.Balance += payout
		return nil
	}); err != nil {
		return true, fmt.Errorf("failed to credit payout: %w", err)
	}

	e.emit(ctx, &models.Notification{
		ID:        models.GenerateNotificationID(),
		UserID:    ticket.UserID,
		Title:     "Ticket Won! 🎉",
		Message:   fmt.Sprintf("Your ticket %s has won! %s added to your balance.", ticket.ID, models.FormatCurrency(payout)),
		Timestamp: time.Now().UnixMilli(),
		Kind:      models.NotificationKindWin,
	})

	if err := e.unlockReferral(ctx, ticket.UserID); err != nil {
		log.Printf("Failed to unlock referral bonus for %s: %v", ticket.UserID, err)
	}

	return true, nil
}

// unlockReferral zeroes a nonzero locked referral balance on the
// owner's first ticket win and emits exactly one unlock notification.
func (e *SettlementEngine) unlockReferral(ctx context.Context, userID string) error {
	_, err := e.store.UpdateAccount(ctx, userID, func(acct *models.Account) error {
		if acct.LockedReferral <= 0 {
			return ErrAborted
		}
		acct.LockedReferral = 0
		return nil
	})
	if err == ErrAborted {
		return nil
	}
	if err != nil {
		return err
	}

	e.emit(ctx, &models.Notification{
		ID:        models.GenerateNotificationID(),
		UserID:    userID,
		Title:     "Referral Bonus Unlocked",
		Message:   "Your referral bonus has been unlocked and is now withdrawable.",
		Timestamp: time.Now().UnixMilli(),
		Kind:      models.NotificationKindInfo,
	})
	return nil
}

func (e *SettlementEngine) emit(ctx context.Context, n *models.Notification) {
	if err := e.store.SaveNotification(ctx, n); err != nil {
		log.Printf("Failed to save notification for %s: %v", n.UserID, err)
	}
	if e.broadcaster != nil {
		e.broadcaster.NotifyUser(n.UserID, n)
	}
}

// FetchLiveMatches pulls the live-match feed and appends the raw
// payload to the snapshot history. Returns the number of matches seen.
func (e *SettlementEngine) FetchLiveMatches(ctx context.Context) (int, error) {
	raw, err := e.fetcher.FetchJSON(ctx, e.cfg.LiveFeedURL)
	if err != nil {
		return 0, fmt.Errorf("live feed unavailable: %w", err)
	}

	if _, err := e.store.AppendLiveSnapshot(ctx, raw); err != nil {
		return 0, err
	}

	matches := extractArray(raw, "matches")
	if len(matches) == 0 {
		log.Println("Live fetch: no matches in payload")
	}
	return len(matches), nil
}

// ExtractResults normalizes the result feed body: feeds deliver either
// a bare array of result objects or an object wrapping the array under
// a nested field.
func ExtractResults(raw json.RawMessage) []models.MatchResult {
	var results []models.MatchResult

	for _, candidate := range extractArray(raw, "results") {
		var r models.MatchResult
		if err := json.Unmarshal(candidate, &r); err != nil {
			continue
		}
		if r.ID == "" {
			continue
		}
		results = append(results, r)
	}
	return results
}

// extractArray finds the payload's object array: the top level itself,
// payload[field], payload.data, payload.data[field].
func extractArray(raw json.RawMessage, field string) []json.RawMessage {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil
	}

	if inner, ok := wrapper[field]; ok {
		if err := json.Unmarshal(inner, &arr); err == nil {
			return arr
		}
	}

	data, ok := wrapper["data"]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr
	}

	var dataWrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &dataWrapper); err != nil {
		return nil
	}
	if inner, ok := dataWrapper[field]; ok {
		if err := json.Unmarshal(inner, &arr); err == nil {
			return arr
		}
	}
	return nil
}
