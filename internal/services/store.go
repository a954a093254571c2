package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sportsbook-settlement-backend/internal/config"
	"sportsbook-settlement-backend/internal/models"
)

// ErrAborted is returned by a compare-and-swap update function to cancel
// the write. It is a normal control-flow outcome: "already settled by
// another pass" for tickets, "insufficient funds" for reservations.
var ErrAborted = errors.New("store: update aborted")

// ErrConflict is returned when a compare-and-swap loses the race against
// concurrent writers more times than the store is willing to retry.
var ErrConflict = errors.New("store: too many conflicting writers")

var ErrNotFound = errors.New("store: not found")

// casRetries bounds the optimistic-transaction retry loop.
const casRetries = 5

type RedisService struct {
	client *redis.Client
}

func NewRedisService(cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}

	return &RedisService{client: client}, nil
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

// compareAndSwap reads the record at key, applies update, and writes the
// result back only if the key was untouched in between (WATCH/MULTI).
// update receives nil when the key does not exist; returning nil bytes
// deletes the key; returning ErrAborted leaves the record as-is.
// A lost race is retried up to casRetries times before ErrConflict.
func (s *RedisService) compareAndSwap(ctx context.Context, key string, update func(current []byte) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			current = nil
		} else if err != nil {
			return err
		}

		next, err := update(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, next, 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrConflict
}

// ---- Accounts ----

func (s *RedisService) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	key := fmt.Sprintf(KeyAccount, userID)

	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %v", err)
	}

	var acct models.Account
	if err := json.Unmarshal([]byte(data), &acct); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %v", err)
	}
	return &acct, nil
}

func (s *RedisService) SaveAccount(ctx context.Context, acct *models.Account) error {
	key := fmt.Sprintf(KeyAccount, acct.UserID)

	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %v", err)
	}

	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save account: %v", err)
	}
	return s.client.SAdd(ctx, KeyAccountsIndex, acct.UserID).Err()
}

func (s *RedisService) ListAccountIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, KeyAccountsIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %v", err)
	}
	return ids, nil
}

// UpdateAccount applies fn to the stored account under an atomic
// compare-and-swap. fn may return ErrAborted to cancel without error
// classification here; callers map the abort to their own outcome.
func (s *RedisService) UpdateAccount(ctx context.Context, userID string, fn func(acct *models.Account) error) (*models.Account, error) {
	key := fmt.Sprintf(KeyAccount, userID)
	var updated models.Account

	err := s.compareAndSwap(ctx, key, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		var acct models.Account
		if err := json.Unmarshal(current, &acct); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account: %v", err)
		}
		if err := fn(&acct); err != nil {
			return nil, err
		}
		acct.UpdatedAt = time.Now().Unix()
		updated = acct
		return json.Marshal(acct)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ---- Tickets ----

func (s *RedisService) SaveTicket(ctx context.Context, t *models.Ticket) error {
	coll := ticketCollection(t.Kind)
	key := fmt.Sprintf(KeyTicket, t.UserID, coll, t.ID)

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %v", err)
	}

	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save ticket: %v", err)
	}
	return s.client.SAdd(ctx, fmt.Sprintf(KeyTicketIndex, t.UserID, coll), t.ID).Err()
}

func (s *RedisService) GetTicket(ctx context.Context, userID string, kind models.TicketKind, ticketID string) (*models.Ticket, error) {
	key := fmt.Sprintf(KeyTicket, userID, ticketCollection(kind), ticketID)

	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %v", err)
	}

	var t models.Ticket
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket: %v", err)
	}
	return &t, nil
}

func (s *RedisService) ListTickets(ctx context.Context, userID string, kind models.TicketKind) ([]*models.Ticket, error) {
	coll := ticketCollection(kind)

	ids, err := s.client.SMembers(ctx, fmt.Sprintf(KeyTicketIndex, userID, coll)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %v", err)
	}

	var tickets []*models.Ticket
	for _, id := range ids {
		data, err := s.client.Get(ctx, fmt.Sprintf(KeyTicket, userID, coll, id)).Result()
		if err != nil {
			continue
		}
		var t models.Ticket
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			continue
		}
		tickets = append(tickets, &t)
	}
	return tickets, nil
}

// TransitionTicket commits a reconciliation outcome via compare-and-swap.
// The write aborts as a no-op when the stored ticket has already left
// pending, which is what makes duplicate concurrent settlement passes
// safe. Returns whether this caller's write committed.
func (s *RedisService) TransitionTicket(ctx context.Context, userID string, kind models.TicketKind, ticketID string, status models.TicketStatus, legs []models.Leg) (bool, error) {
	key := fmt.Sprintf(KeyTicket, userID, ticketCollection(kind), ticketID)

	err := s.compareAndSwap(ctx, key, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrAborted
		}
		var t models.Ticket
		if err := json.Unmarshal(current, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ticket: %v", err)
		}
		if t.Settled() {
			return nil, ErrAborted
		}
		t.Status = status
		t.Legs = legs
		if status != models.TicketStatusPending {
			t.SettledAt = time.Now().UnixMilli()
		}
		return json.Marshal(t)
	})
	if err == ErrAborted {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteTicketIfPending removes a ticket only while it is still pending.
// Settled tickets are never deleted.
func (s *RedisService) DeleteTicketIfPending(ctx context.Context, userID string, kind models.TicketKind, ticketID string) (bool, error) {
	coll := ticketCollection(kind)
	key := fmt.Sprintf(KeyTicket, userID, coll, ticketID)

	err := s.compareAndSwap(ctx, key, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrAborted
		}
		var t models.Ticket
		if err := json.Unmarshal(current, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ticket: %v", err)
		}
		if t.Settled() {
			return nil, ErrAborted
		}
		return nil, nil
	})
	if err == ErrAborted {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, s.client.SRem(ctx, fmt.Sprintf(KeyTicketIndex, userID, coll), ticketID).Err()
}

// ---- Result history ----

// SaveResultHistory persists a fetched result so later reconciliation
// passes can replay it after the match rolls off the live window.
func (s *RedisService) SaveResultHistory(ctx context.Context, r *models.MatchResult) error {
	key := fmt.Sprintf(KeyResultHistory, r.ID)

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %v", err)
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

func (s *RedisService) GetResultHistory(ctx context.Context, matchID string) (*models.MatchResult, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyResultHistory, matchID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result history: %v", err)
	}

	var r models.MatchResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result history: %v", err)
	}
	return &r, nil
}

// ---- Live snapshots ----

type liveSnapshot struct {
	PayloadString string `json:"payload_string"`
	FetchedAt     int64  `json:"fetched_at"`
}

// AppendLiveSnapshot stores the raw feed payload as an opaque string
// keyed by fetch time. Upstream field names are never reshaped here;
// payload keys may be invalid as store keys, so the whole body is kept
// serialized.
func (s *RedisService) AppendLiveSnapshot(ctx context.Context, raw []byte) (int64, error) {
	ts := time.Now().UnixMilli()
	key := fmt.Sprintf(KeyLiveSnapshot, ts)

	data, err := json.Marshal(liveSnapshot{PayloadString: string(raw), FetchedAt: ts})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %v", err)
	}

	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %v", err)
	}

	if err := s.client.ZAdd(ctx, KeyLiveSnapshotIndex, redis.Z{
		Score:  float64(ts),
		Member: key,
	}).Err(); err != nil {
		return 0, fmt.Errorf("failed to index snapshot: %v", err)
	}

	// Trim old snapshot keys beyond the retention window.
	old, err := s.client.ZRange(ctx, KeyLiveSnapshotIndex, 0, int64(-MaxLiveSnapshots-1)).Result()
	if err == nil && len(old) > 0 {
		s.client.Del(ctx, old...)
		s.client.ZRemRangeByRank(ctx, KeyLiveSnapshotIndex, 0, int64(-MaxLiveSnapshots-1))
	}

	return ts, nil
}

// LatestLiveSnapshot returns the most recent cached payload and its
// fetch timestamp.
func (s *RedisService) LatestLiveSnapshot(ctx context.Context) ([]byte, int64, error) {
	keys, err := s.client.ZRevRange(ctx, KeyLiveSnapshotIndex, 0, 0).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read snapshot index: %v", err)
	}
	if len(keys) == 0 {
		return nil, 0, ErrNotFound
	}

	data, err := s.client.Get(ctx, keys[0]).Result()
	if err == redis.Nil {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get snapshot: %v", err)
	}

	var snap liveSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal snapshot: %v", err)
	}
	return []byte(snap.PayloadString), snap.FetchedAt, nil
}

// ---- Notifications ----

func (s *RedisService) SaveNotification(ctx context.Context, n *models.Notification) error {
	key := fmt.Sprintf(KeyNotification, n.UserID, n.ID)

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %v", err)
	}

	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save notification: %v", err)
	}

	indexKey := fmt.Sprintf(KeyNotificationIndex, n.UserID)
	if err := s.client.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(n.Timestamp),
		Member: n.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index notification: %v", err)
	}

	// Keep only the most recent notifications per account; the evicted
	// records go with their index entries.
	old, err := s.client.ZRange(ctx, indexKey, 0, int64(-MaxNotifications-1)).Result()
	if err == nil && len(old) > 0 {
		for _, id := range old {
			s.client.Del(ctx, fmt.Sprintf(KeyNotification, n.UserID, id))
		}
		s.client.ZRemRangeByRank(ctx, indexKey, 0, int64(-MaxNotifications-1))
	}

	return nil
}

func (s *RedisService) GetNotification(ctx context.Context, userID, id string) (*models.Notification, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyNotification, userID, id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %v", err)
	}

	var n models.Notification
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %v", err)
	}
	return &n, nil
}

func (s *RedisService) ListNotifications(ctx context.Context, userID string, limit int64) ([]*models.Notification, error) {
	if limit <= 0 || limit > MaxNotifications {
		limit = 50
	}

	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyNotificationIndex, userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %v", err)
	}

	var notifs []*models.Notification
	for _, id := range ids {
		data, err := s.client.Get(ctx, fmt.Sprintf(KeyNotification, userID, id)).Result()
		if err != nil {
			continue
		}
		var n models.Notification
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			continue
		}
		notifs = append(notifs, &n)
	}
	return notifs, nil
}

// ---- Test helpers ----

func (s *RedisService) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, fmt.Sprintf(KeyAccount, userID)).Err(); err != nil {
		return err
	}
	return s.client.SRem(ctx, KeyAccountsIndex, userID).Err()
}

func (s *RedisService) DeleteTicket(ctx context.Context, userID string, kind models.TicketKind, ticketID string) error {
	coll := ticketCollection(kind)
	if err := s.client.Del(ctx, fmt.Sprintf(KeyTicket, userID, coll, ticketID)).Err(); err != nil {
		return err
	}
	return s.client.SRem(ctx, fmt.Sprintf(KeyTicketIndex, userID, coll), ticketID).Err()
}

func (s *RedisService) DeleteNotifications(ctx context.Context, userID string) error {
	indexKey := fmt.Sprintf(KeyNotificationIndex, userID)
	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.client.Del(ctx, fmt.Sprintf(KeyNotification, userID, id))
	}
	return s.client.Del(ctx, indexKey).Err()
}
