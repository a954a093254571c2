package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func GenerateTicketID() string {
	return fmt.Sprintf("TKT-%s-%d",
		time.Now().Format("20060102"),
		uuid.New().ID())
}

func GenerateNotificationID() string {
	return fmt.Sprintf("NOTIF-%d-%d", time.Now().UnixMilli(), uuid.New().ID())
}

func GenerateWithdrawalRef() string {
	return fmt.Sprintf("WDR-%s-%d",
		time.Now().Format("20060102"),
		uuid.New().ID())
}

func (r *WithdrawRequest) Validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if r.Destination == "" {
		return fmt.Errorf("destination address is required")
	}
	return nil
}

func (r *DepositRequest) Validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if r.Destination == "" {
		return fmt.Errorf("destination address is required")
	}
	return nil
}

func FormatCurrency(units int64) string {
	return fmt.Sprintf("%d UGX", units)
}
