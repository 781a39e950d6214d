package main

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/galarux/subastapp/configs"
	"github.com/galarux/subastapp/internal/auction"
	"github.com/galarux/subastapp/internal/database"
	"github.com/galarux/subastapp/internal/handlers/websocket"
)

func main() {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080" // Default port if not specified
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug" // Default log level if not specified
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level: ", err)
	}
	log.SetLevel(logLevel)

	// Initialize database service
	db := database.New(cfg)
	defer db.Close()

	// Initialize WebSocket handler and the room coordinator
	auctionHandler := websocket.NewAuctionWebSocketHandler(db)
	coordinator := auction.New(db, auctionHandler, auction.Config{
		CountdownSeconds:    cfg.Auction.CountdownSeconds,
		MinIncrement:        cfg.Auction.MinIncrement,
		ItemsPerParticipant: cfg.Auction.ItemsPerParticipant,
	}, nil)
	auctionHandler.SetCoordinator(coordinator)
	defer coordinator.Stop()

	// Pick the countdown back up if a lot was live when we last stopped
	if err := coordinator.Hydrate(context.Background()); err != nil {
		log.Error("Error resuming auction state: ", err)
	}

	// Setup routes
	http.HandleFunc("/ws/auction", auctionHandler.HandleAuctions)

	log.Infof("Server started on port %s", port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
