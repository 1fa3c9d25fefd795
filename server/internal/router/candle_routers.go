package router

import (
	"github.com/gin-gonic/gin"

	"almejal/eldorado/server/internal/handler"
)

func registerCandleRoutes(router *gin.RouterGroup, candleHandler *handler.CandleHandler) {
	router.GET("/exchanges", candleHandler.GetExchanges)
	router.GET("/markets", candleHandler.GetMarkets)

	markets := router.Group("/markets/:exchange/:market")
	{
		markets.GET("/candles", candleHandler.GetCandles)
		markets.GET("/candles/latest", candleHandler.GetLatestCandle)
		markets.GET("/candles/daily", candleHandler.GetDailyCandles)
	}
}

func registerStatusRoutes(router *gin.RouterGroup, statusHandler *handler.StatusHandler) {
	status := router.Group("/status")
	{
		status.GET("/instances", statusHandler.GetInstances)
		status.GET("/alerts", statusHandler.GetAlerts)
		status.GET("/events", statusHandler.GetOpenEvents)
	}
}
