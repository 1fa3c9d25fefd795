package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/pressly/goose/v3"

	"almejal/eldorado/internal/logger"
	"almejal/eldorado/internal/storage"
	"almejal/eldorado/server/config"
	"almejal/eldorado/server/internal/handler"
	"almejal/eldorado/server/internal/repository"
	"almejal/eldorado/server/internal/router"
	"almejal/eldorado/server/internal/service"
)

func main() {
	cfg := config.Load()

	store, err := storage.New(cfg.PostgresDSN, logger.New("info", ""))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	migrateFlag := flag.Bool("migrate", false, "Run database migrations and exit")
	flag.Parse()

	if *migrateFlag {
		if err := goose.SetDialect("postgres"); err != nil {
			log.Fatalf("Goose: failed to set dialect: %v", err)
		}
		log.Println("Running database migrations...")
		if err := goose.Up(store.DB(), "internal/migrations"); err != nil {
			log.Fatalf("Goose migration failed: %v", err)
		}
	}

	if cfg.DebugMode != "True" {
		gin.SetMode(gin.ReleaseMode)
	}

	candleRepo := repository.NewStoreCandleRepository(store)
	candleService := service.NewCandleService(candleRepo)

	routerConfig := &router.Config{
		CandleHandler: handler.NewCandleHandler(candleService),
		StatusHandler: handler.NewStatusHandler(candleService),
	}

	router := router.NewRouter(routerConfig)

	router.Run(fmt.Sprintf(":%s", cfg.ServerPort))
}
