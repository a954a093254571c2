package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"sportsbook-settlement-backend/internal/services"
)

type AdminHandler struct {
	engine *services.SettlementEngine
}

func NewAdminHandler(engine *services.SettlementEngine) *AdminHandler {
	return &AdminHandler{engine: engine}
}

// TriggerSettlement runs one on-demand settlement pass.
func (h *AdminHandler) TriggerSettlement(c *gin.Context) {
	processed, err := h.engine.SettleTickets(c.Request.Context())
	if err != nil {
		log.Printf("Admin settlement error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

// TriggerLiveFetch runs one on-demand live-match fetch.
func (h *AdminHandler) TriggerLiveFetch(c *gin.Context) {
	processed, err := h.engine.FetchLiveMatches(c.Request.Context())
	if err != nil {
		log.Printf("Admin live fetch error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"processed": processed})
}
