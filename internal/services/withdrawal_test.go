package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportsbook-settlement-backend/internal/config"
	"sportsbook-settlement-backend/internal/models"
	"sportsbook-settlement-backend/internal/services"
)

// fakeProvider stands in for the payment API and counts calls so tests
// can assert no external call happens on a failed reservation.
type fakeProvider struct {
	calls int32
	fail  bool
}

func (p *fakeProvider) Withdraw(ctx context.Context, destination string, amount int64) (json.RawMessage, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.fail {
		return nil, &services.ProviderError{Message: "provider says no", Err: errors.New("rejected")}
	}
	return json.RawMessage(`{"status": "success"}`), nil
}

func (p *fakeProvider) Deposit(ctx context.Context, destination string, amount int64) (json.RawMessage, error) {
	atomic.AddInt32(&p.calls, 1)
	return json.RawMessage(`{"status": "success"}`), nil
}

func newWithdrawalService(store *services.RedisService, provider services.PaymentProvider) *services.WithdrawalService {
	cfg := &config.Config{FeePercent: 0.10}
	return services.NewWithdrawalService(store, provider, cfg, nil)
}

func TestComputeDebit(t *testing.T) {
	fee, total := services.ComputeDebit(700, 0.10)
	assert.Equal(t, int64(70), fee)
	assert.Equal(t, int64(770), total)

	// Fee floors, never rounds up.
	fee, total = services.ComputeDebit(999, 0.10)
	assert.Equal(t, int64(99), fee)
	assert.Equal(t, int64(1098), total)

	fee, total = services.ComputeDebit(5, 0.10)
	assert.Equal(t, int64(0), fee)
	assert.Equal(t, int64(5), total)
}

func TestWithdraw_Success(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()

	seedAccount(t, store, &models.Account{UserID: userID, Balance: 10000})

	provider := &fakeProvider{}
	svc := newWithdrawalService(store, provider)

	result, err := svc.Withdraw(ctx, userID, "256700000000", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), result.Amount)
	assert.Equal(t, int64(100), result.Fee)
	assert.Equal(t, int64(8900), result.NewBalance)

	acct, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	// Balance decrease equals amount+fee, and nothing stays reserved.
	assert.Equal(t, int64(8900), acct.Balance)
	assert.Zero(t, acct.PendingWithdrawal)

	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.calls))
}

func TestWithdraw_ProviderFailureCompensates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()

	seedAccount(t, store, &models.Account{UserID: userID, Balance: 10000})

	provider := &fakeProvider{fail: true}
	svc := newWithdrawalService(store, provider)

	_, err := svc.Withdraw(ctx, userID, "256700000000", 1000)
	require.Error(t, err)

	var provErr *services.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "provider says no", provErr.Message)

	// Compensation must restore the pre-reservation state exactly.
	acct, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), acct.Balance)
	assert.Zero(t, acct.PendingWithdrawal)
}

func TestWithdraw_InsufficientWithdrawableFunds(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()

	// balance 1000, locked 400: withdrawable 600. amount 700 + fee 70
	// exceeds it, so the request fails before any external call.
	seedAccount(t, store, &models.Account{UserID: userID, Balance: 1000, LockedReferral: 400})

	provider := &fakeProvider{}
	svc := newWithdrawalService(store, provider)

	_, err := svc.Withdraw(ctx, userID, "256700000000", 700)
	assert.ErrorIs(t, err, services.ErrInsufficientFunds)
	assert.Zero(t, atomic.LoadInt32(&provider.calls), "no external call on failed reservation")

	acct, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acct.Balance)
	assert.Zero(t, acct.PendingWithdrawal)
}

func TestWithdraw_OverflowAmountRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()

	seedAccount(t, store, &models.Account{UserID: userID, Balance: 1000})

	provider := &fakeProvider{}
	svc := newWithdrawalService(store, provider)

	// amount+fee wraps past MaxInt64; a negative totalDebit must never
	// reach the reservation, where subtracting it would credit funds.
	_, err := svc.Withdraw(ctx, userID, "256700000000", 9_000_000_000_000_000_000)
	require.Error(t, err)
	assert.Zero(t, atomic.LoadInt32(&provider.calls))

	acct, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acct.Balance)
	assert.Zero(t, acct.PendingWithdrawal)
}

func TestWithdraw_Validation(t *testing.T) {
	store := setupTestStore(t)
	userID := testUserID()
	seedAccount(t, store, &models.Account{UserID: userID, Balance: 10000})

	provider := &fakeProvider{}
	svc := newWithdrawalService(store, provider)

	_, err := svc.Withdraw(context.Background(), userID, "256700000000", 0)
	assert.Error(t, err)

	_, err = svc.Withdraw(context.Background(), userID, "", 100)
	assert.Error(t, err)

	assert.Zero(t, atomic.LoadInt32(&provider.calls))
}

func TestWithdraw_MissingAccount(t *testing.T) {
	store := setupTestStore(t)

	provider := &fakeProvider{}
	svc := newWithdrawalService(store, provider)

	_, err := svc.Withdraw(context.Background(), testUserID(), "256700000000", 100)
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.Zero(t, atomic.LoadInt32(&provider.calls))
}

func TestWithdrawalResult_OmitsUnknownBalance(t *testing.T) {
	// When the post-confirm balance could not be read back the field
	// must disappear rather than report a false zero.
	unknown, err := json.Marshal(&services.WithdrawalResult{
		Reference: "WDR-1",
		Amount:    1000,
		Fee:       100,
		Provider:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.NotContains(t, string(unknown), "new_balance")

	known, err := json.Marshal(&services.WithdrawalResult{
		Reference:  "WDR-2",
		Amount:     1000,
		Fee:        100,
		NewBalance: 8900,
		Provider:   json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Contains(t, string(known), `"new_balance":8900`)
}

func TestWithdraw_Conservation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	userID := testUserID()

	seedAccount(t, store, &models.Account{UserID: userID, Balance: 100000})

	provider := &fakeProvider{}
	svc := newWithdrawalService(store, provider)

	var confirmed int64
	for _, amount := range []int64{1000, 2500, 333} {
		result, err := svc.Withdraw(ctx, userID, "256700000000", amount)
		require.NoError(t, err)
		confirmed += amount + result.Fee
	}

	acct, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000)-confirmed, acct.Balance,
		"sum of balance decreases must equal sum of confirmed amount+fee")
	assert.Zero(t, acct.PendingWithdrawal)
}
