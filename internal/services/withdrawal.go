package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"sportsbook-settlement-backend/internal/config"
	"sportsbook-settlement-backend/internal/models"
)

// ErrInsufficientFunds covers both a genuinely short balance and a lost
// reservation race; either way no external call was made.
var ErrInsufficientFunds = errors.New("insufficient withdrawable balance")

// ProviderError carries the payment provider's own message to the caller.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("payment provider failure: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PaymentProvider is the external money-movement API.
type PaymentProvider interface {
	Withdraw(ctx context.Context, destination string, amount int64) (json.RawMessage, error)
	Deposit(ctx context.Context, destination string, amount int64) (json.RawMessage, error)
}

// LivraProvider talks to the Livra payment API. Calls are single-shot:
// a payment POST is never retried, a timeout is a terminal failure.
type LivraProvider struct {
	client  *FetchClient
	baseURL string
}

func NewLivraProvider(cfg *config.Config) *LivraProvider {
	return &LivraProvider{
		client:  NewFetchClientWith(1, 0, defaultFetchTimeout),
		baseURL: cfg.PaymentAPIURL,
	}
}

func (p *LivraProvider) Withdraw(ctx context.Context, destination string, amount int64) (json.RawMessage, error) {
	return p.call(ctx, p.baseURL+"/withdraw", destination, amount)
}

func (p *LivraProvider) Deposit(ctx context.Context, destination string, amount int64) (json.RawMessage, error) {
	return p.call(ctx, p.baseURL+"/deposit", destination, amount)
}

func (p *LivraProvider) call(ctx context.Context, url, destination string, amount int64) (json.RawMessage, error) {
	body, err := p.client.PostJSON(ctx, url, map[string]any{
		"msisdn": destination,
		"amount": amount,
	})
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return nil, &ProviderError{Message: providerMessage(json.RawMessage(httpErr.Message)), Err: err}
		}
		return nil, &ProviderError{Err: err}
	}

	// Some provider errors come back with a 200 and an error envelope.
	var envelope struct {
		Status  string `json:"status"`
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Status == "error" || (envelope.Success != nil && !*envelope.Success) {
			return nil, &ProviderError{Message: envelope.Message, Err: errors.New("provider rejected request")}
		}
	}
	return body, nil
}

func providerMessage(body json.RawMessage) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	return ""
}

// WithdrawalResult is the provider's response plus the post-confirm
// ledger view. NewBalance is omitted when the post-confirm balance
// could not be read back; a zero there would be a lie.
type WithdrawalResult struct {
	Reference  string          `json:"reference"`
	Amount     int64           `json:"amount"`
	Fee        int64           `json:"fee"`
	NewBalance int64           `json:"new_balance,omitempty"`
	Provider   json.RawMessage `json:"provider"`
}

// WithdrawalService runs the reserve/confirm/compensate saga.
type WithdrawalService struct {
	store       *RedisService
	provider    PaymentProvider
	cfg         *config.Config
	broadcaster Broadcaster
}

func NewWithdrawalService(store *RedisService, provider PaymentProvider, cfg *config.Config, broadcaster Broadcaster) *WithdrawalService {
	return &WithdrawalService{
		store:       store,
		provider:    provider,
		cfg:         cfg,
		broadcaster: broadcaster,
	}
}

// ComputeDebit derives the fee and the total amount a withdrawal takes
// off the balance.
func ComputeDebit(amount int64, feeRate float64) (fee, totalDebit int64) {
	fee = int64(math.Floor(float64(amount) * feeRate))
	return fee, amount + fee
}

// Withdraw moves amount to destination in three phases:
//
//  1. Reserve: one CAS on the account moves amount+fee out of Balance
//     into PendingWithdrawal, aborting when withdrawable funds are short.
//  2. Forward: call the payment provider.
//  3. Confirm on success (PendingWithdrawal shrinks, Balance stays
//     debited), or compensate on failure (the exact reserved totalDebit
//     returns to Balance).
func (s *WithdrawalService) Withdraw(ctx context.Context, userID, destination string, amount int64) (*WithdrawalResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if destination == "" {
		return nil, fmt.Errorf("destination address is required")
	}

	fee, totalDebit := ComputeDebit(amount, s.cfg.FeePercent)
	// amount+fee wrapping past MaxInt64 would make totalDebit negative,
	// turning the reservation below into a credit.
	if fee < 0 || totalDebit < amount {
		return nil, fmt.Errorf("amount too large")
	}

	_, err := s.store.UpdateAccount(ctx, userID, func(acct *models.Account) error {
		if acct.Withdrawable() < totalDebit {
			return ErrAborted
		}
		acct.Balance -= totalDebit
		acct.PendingWithdrawal += totalDebit
		return nil
	})
	if err == ErrAborted || err == ErrConflict {
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}

	providerResp, err := s.provider.Withdraw(ctx, destination, amount)
	if err != nil {
		s.compensate(ctx, userID, totalDebit)
		return nil, err
	}

	acct, err := s.confirm(ctx, userID, totalDebit)
	if err != nil {
		// The money left the ledger either way; the reservation cleanup
		// is retried on the next withdrawal's read path at worst.
		log.Printf("Could not finalize pendingWithdrawal cleanup for %s: %v", userID, err)
		if current, gerr := s.store.GetAccount(ctx, userID); gerr == nil {
			acct = current
		}
	}

	result := &WithdrawalResult{
		Reference: models.GenerateWithdrawalRef(),
		Amount:    amount,
		Fee:       fee,
		Provider:  providerResp,
	}
	if acct != nil {
		result.NewBalance = acct.Balance
	}

	s.emit(ctx, &models.Notification{
		ID:        models.GenerateNotificationID(),
		UserID:    userID,
		Title:     "Withdrawal Initiated",
		Message:   fmt.Sprintf("Your withdrawal of %s has been processed. Fee: %s", models.FormatCurrency(amount), models.FormatCurrency(fee)),
		Timestamp: time.Now().UnixMilli(),
		Kind:      models.NotificationKindWithdrawal,
	})

	return result, nil
}

// confirm settles the reservation: the provider sent the money, so the
// pending marker goes away while the balance stays debited.
func (s *WithdrawalService) confirm(ctx context.Context, userID string, totalDebit int64) (*models.Account, error) {
	return s.store.UpdateAccount(ctx, userID, func(acct *models.Account) error {
		acct.PendingWithdrawal -= totalDebit
		if acct.PendingWithdrawal < 0 {
			acct.PendingWithdrawal = 0
		}
		return nil
	})
}

// compensate restores exactly the reserved totalDebit after a provider
// failure, leaving the balance as if the request never happened.
func (s *WithdrawalService) compensate(ctx context.Context, userID string, totalDebit int64) {
	if _, err := s.store.UpdateAccount(ctx, userID, func(acct *models.Account) error {
		acct.Balance += totalDebit
		acct.PendingWithdrawal -= totalDebit
		if acct.PendingWithdrawal < 0 {
			acct.PendingWithdrawal = 0
		}
		return nil
	}); err != nil {
		log.Printf("Failed to revert reservation for %s after provider failure: %v", userID, err)
	}
}

// Deposit proxies a deposit request to the provider. The balance credit
// itself arrives through the provider's own confirmation flow.
func (s *WithdrawalService) Deposit(ctx context.Context, destination string, amount int64) (json.RawMessage, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return s.provider.Deposit(ctx, destination, amount)
}

func (s *WithdrawalService) emit(ctx context.Context, n *models.Notification) {
	if err := s.store.SaveNotification(ctx, n); err != nil {
		log.Printf("Failed to save notification for %s: %v", n.UserID, err)
	}
	if s.broadcaster != nil {
		s.broadcaster.NotifyUser(n.UserID, n)
	}
}
