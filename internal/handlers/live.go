package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"sportsbook-settlement-backend/internal/config"
	"sportsbook-settlement-backend/internal/services"
)

// LiveHandler proxies the live-match feed, caching every successful
// payload and serving the last snapshot when the upstream is down.
type LiveHandler struct {
	store   *services.RedisService
	fetcher *services.FetchClient
	cfg     *config.Config
}

func NewLiveHandler(store *services.RedisService, fetcher *services.FetchClient, cfg *config.Config) *LiveHandler {
	return &LiveHandler{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
	}
}

func (h *LiveHandler) GetLiveMatches(c *gin.Context) {
	ctx := c.Request.Context()

	raw, err := h.fetcher.FetchJSON(ctx, h.cfg.LiveFeedURL)
	if err == nil {
		if _, err := h.store.AppendLiveSnapshot(ctx, raw); err != nil {
			log.Printf("Failed to cache live snapshot: %v", err)
		}
		c.Data(http.StatusOK, "application/json", raw)
		return
	}

	log.Printf("Live feed unreachable, trying cached snapshot: %v", err)

	cached, fetchedAt, cacheErr := h.store.LatestLiveSnapshot(ctx)
	if cacheErr != nil {
		if errors.Is(cacheErr, services.ErrNotFound) {
			c.JSON(http.StatusBadGateway, gin.H{"message": "Failed to fetch live matches"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to read cached snapshot"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"_fallback": true,
		"fetchedAt": fetchedAt,
		"data":      json.RawMessage(cached),
	})
}
