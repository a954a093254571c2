package models

// Account balances are in the smallest currency unit.
//
// LockedReferral is the referral-bonus portion that is not withdrawable
// until the owner wins a ticket. PendingWithdrawal holds funds already
// removed from Balance but not yet confirmed sent to the provider.
type Account struct {
	UserID            string `json:"user_id" redis:"user_id"`
	Balance           int64  `json:"balance" redis:"balance"`
	LockedReferral    int64  `json:"locked_referral" redis:"locked_referral"`
	PendingWithdrawal int64  `json:"pending_withdrawal" redis:"pending_withdrawal"`

	CreatedAt int64 `json:"created_at" redis:"created_at"`
	UpdatedAt int64 `json:"updated_at" redis:"updated_at"`
}

// Withdrawable is the portion of Balance a withdrawal may draw on.
func (a *Account) Withdrawable() int64 {
	return a.Balance - a.LockedReferral
}

type BalanceResponse struct {
	Balance           int64 `json:"balance"`
	LockedReferral    int64 `json:"locked_referral"`
	PendingWithdrawal int64 `json:"pending_withdrawal"`
	Withdrawable      int64 `json:"withdrawable"`
}
