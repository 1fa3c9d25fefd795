package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"almejal/eldorado/server/internal/service"
)

type StatusHandler struct {
	candleService *service.CandleService
}

func NewStatusHandler(service *service.CandleService) *StatusHandler {
	return &StatusHandler{
		candleService: service,
	}
}

func (h *StatusHandler) GetInstances(c *gin.Context) {
	instances, err := h.candleService.GetInstances(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, instances)
}

func (h *StatusHandler) GetAlerts(c *gin.Context) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339"})
			return
		}
		since = t.UTC()
	}
	alerts, err := h.candleService.GetAlerts(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// GetOpenEvents lists queued and claimed work events for one exchange.
func (h *StatusHandler) GetOpenEvents(c *gin.Context) {
	exchange := c.Query("exchange")
	if exchange == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange is required"})
		return
	}
	events, err := h.candleService.GetOpenEvents(c.Request.Context(), exchange)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}
