package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sportsbook-settlement-backend/internal/models"
	"sportsbook-settlement-backend/internal/services"
)

type WalletHandler struct {
	store      *services.RedisService
	withdrawal *services.WithdrawalService
}

func NewWalletHandler(store *services.RedisService, withdrawal *services.WithdrawalService) *WalletHandler {
	return &WalletHandler{
		store:      store,
		withdrawal: withdrawal,
	}
}

// Withdraw runs the reserve/forward/confirm-or-compensate saga. Error
// statuses distinguish validation (400), insufficient withdrawable
// funds (409) and provider failure (502).
func (h *WalletHandler) Withdraw(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	result, err := h.withdrawal.Withdraw(c.Request.Context(), userID, req.Destination, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInsufficientFunds):
			c.JSON(http.StatusConflict, gin.H{"message": "Insufficient withdrawable balance"})
		case errors.Is(err, services.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"message": "Account not found"})
		default:
			var provErr *services.ProviderError
			if errors.As(err, &provErr) {
				c.JSON(http.StatusBadGateway, gin.H{"message": provErr.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Withdrawal request failed"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// Deposit forwards the request to the payment provider; the ledger
// credit arrives via the provider's own confirmation flow.
func (h *WalletHandler) Deposit(c *gin.Context) {
	var req models.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	resp, err := h.withdrawal.Deposit(c.Request.Context(), req.Destination, req.Amount)
	if err != nil {
		var provErr *services.ProviderError
		if errors.As(err, &provErr) {
			c.JSON(http.StatusBadGateway, gin.H{"message": provErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Deposit request failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID := c.GetString("user_id")

	acct, err := h.store.GetAccount(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to get account"})
		return
	}

	c.JSON(http.StatusOK, models.BalanceResponse{
		Balance:           acct.Balance,
		LockedReferral:    acct.LockedReferral,
		PendingWithdrawal: acct.PendingWithdrawal,
		Withdrawable:      acct.Withdrawable(),
	})
}

func (h *WalletHandler) GetNotifications(c *gin.Context) {
	userID := c.GetString("user_id")

	notifs, err := h.store.ListNotifications(c.Request.Context(), userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to list notifications"})
		return
	}
	if notifs == nil {
		notifs = []*models.Notification{}
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifs})
}

func (h *WalletHandler) GetTickets(c *gin.Context) {
	userID := c.GetString("user_id")

	kind := models.TicketKindSportsbook
	if c.Query("kind") == string(models.TicketKindVirtual) {
		kind = models.TicketKindVirtual
	}

	tickets, err := h.store.ListTickets(c.Request.Context(), userID, kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to list tickets"})
		return
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}

	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

// DeleteTicket removes a ticket only while it is still pending; settled
// tickets are permanent.
func (h *WalletHandler) DeleteTicket(c *gin.Context) {
	userID := c.GetString("user_id")
	ticketID := c.Param("id")

	kind := models.TicketKindSportsbook
	if c.Query("kind") == string(models.TicketKindVirtual) {
		kind = models.TicketKindVirtual
	}

	deleted, err := h.store.DeleteTicketIfPending(c.Request.Context(), userID, kind, ticketID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to delete ticket"})
		return
	}
	if !deleted {
		c.JSON(http.StatusConflict, gin.H{"message": "Ticket is settled or does not exist"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": ticketID})
}
