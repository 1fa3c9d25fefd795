package router

import (
	"github.com/gin-gonic/gin"

	"almejal/eldorado/server/internal/handler"
)

type Config struct {
	CandleHandler *handler.CandleHandler
	StatusHandler *handler.StatusHandler
}

func NewRouter(cfg *Config) *gin.Engine {
	router := gin.Default()

	api := router.Group("/v1/")
	registerCandleRoutes(api, cfg.CandleHandler)
	registerStatusRoutes(api, cfg.StatusHandler)

	return router
}
