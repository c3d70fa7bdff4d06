package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/ai"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/commerce"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/config"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/httpapi"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/hub"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/relay"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/store"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/ws"
)

const commerceTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded configuration from .env")
	}
	cfg := config.Load()

	log.Printf("Starting chat relay...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Completion model: %s", cfg.OpenAIModel)

	st, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	aiClient := ai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.AITimeout)
	responder := ai.NewResponder(aiClient, cfg.OpenAIModel, cfg.OpenAIIntentModel, cfg.Temperature, cfg.MaxTokens)

	commerceClient := commerce.NewClient(cfg.ShopDomain, cfg.AdminToken, cfg.APIVersion, commerceTimeout)
	if commerceClient.Configured() {
		log.Printf("Commerce API configured for %s", cfg.ShopDomain)
	} else {
		log.Printf("Commerce API not configured, using sample data")
	}

	connectionHub := hub.NewHub()

	var bridge *hub.Bridge
	bridgeCtx, cancelBridge := context.WithCancel(context.Background())
	defer cancelBridge()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		bridge = hub.NewBridge(rdb, connectionHub)
		go func() {
			if err := bridge.Run(bridgeCtx); err != nil && err != context.Canceled {
				log.Printf("Redis bridge stopped: %v", err)
			}
		}()
		log.Printf("Redis bridge enabled via %s", cfg.RedisAddr)
	}

	chatRelay := relay.New(st, connectionHub, responder, commerceClient, cfg.HistoryWindow)
	wsServer := ws.NewServer(cfg, connectionHub, st, chatRelay)
	apiServer := httpapi.NewServer(st, connectionHub, chatRelay, bridge, wsServer.HandleWebSocket)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := apiServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server started on port %d", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down relay...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}
	chatRelay.Flush()

	log.Println("Relay stopped")
}
