package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"almejal/eldorado/server/internal/service"
)

type CandleHandler struct {
	candleService *service.CandleService
}

func NewCandleHandler(service *service.CandleService) *CandleHandler {
	return &CandleHandler{
		candleService: service,
	}
}

func (h *CandleHandler) GetExchanges(c *gin.Context) {
	exchanges, err := h.candleService.GetExchanges(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, exchanges)
}

func (h *CandleHandler) GetMarkets(c *gin.Context) {
	markets, err := h.candleService.GetMarkets(c.Request.Context(), c.Query("exchange"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, markets)
}

func (h *CandleHandler) GetCandles(c *gin.Context) {
	start, end, ok := parseWindow(c)
	if !ok {
		return
	}
	candles, err := h.candleService.GetCandles(c.Request.Context(),
		c.Param("exchange"), c.Param("market"), start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, candles)
}

func (h *CandleHandler) GetLatestCandle(c *gin.Context) {
	candle, err := h.candleService.GetLatestCandle(c.Request.Context(),
		c.Param("exchange"), c.Param("market"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if candle == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no candles yet"})
		return
	}
	c.JSON(http.StatusOK, candle)
}

func (h *CandleHandler) GetDailyCandles(c *gin.Context) {
	start, end, ok := parseWindow(c)
	if !ok {
		return
	}
	candles, err := h.candleService.GetDailyCandles(c.Request.Context(),
		c.Param("exchange"), c.Param("market"), start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, candles)
}

// parseWindow reads start/end query params as RFC 3339, defaulting to the
// last 24 hours. A malformed value writes the error response itself.
func parseWindow(c *gin.Context) (start, end time.Time, ok bool) {
	end = time.Now().UTC()
	start = end.Add(-24 * time.Hour)
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC 3339"})
			return start, end, false
		}
		start = t.UTC()
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC 3339"})
			return start, end, false
		}
		end = t.UTC()
	}
	return start, end, true
}
