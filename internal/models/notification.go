package models

type NotificationKind string

const (
	NotificationKindWin        NotificationKind = "win"
	NotificationKindInfo       NotificationKind = "info"
	NotificationKindWithdrawal NotificationKind = "withdrawal"
)

type Notification struct {
	ID        string           `json:"id" redis:"id"`
	UserID    string           `json:"user_id" redis:"user_id"`
	Title     string           `json:"title" redis:"title"`
	Message   string           `json:"message" redis:"message"`
	Timestamp int64            `json:"timestamp" redis:"timestamp"`
	Read      bool             `json:"read" redis:"read"`
	Kind      NotificationKind `json:"type" redis:"type"`
}

type WithdrawRequest struct {
	Destination string `json:"destination" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
}

type DepositRequest struct {
	Destination string `json:"destination" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
}
