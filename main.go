package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/soltomm/boss-fight-pump-fun/api"
	"github.com/soltomm/boss-fight-pump-fun/config"
	"github.com/soltomm/boss-fight-pump-fun/db"
	"github.com/soltomm/boss-fight-pump-fun/export"
	"github.com/soltomm/boss-fight-pump-fun/hub"
	"github.com/soltomm/boss-fight-pump-fun/ingest"
	"github.com/soltomm/boss-fight-pump-fun/interpret"
	"github.com/soltomm/boss-fight-pump-fun/ledger"
	"github.com/soltomm/boss-fight-pump-fun/orchestrator"
	"github.com/soltomm/boss-fight-pump-fun/settlement"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables")
	} else {
		log.Println("✅ Loaded environment variables from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ configuration error: %v", err)
	}

	ctx := context.Background()

	ledgerClient, err := ledger.NewClient(ctx, ledger.Config{
		RPCURL:        cfg.ChainRPCURL,
		ProgramID:     cfg.ProgramID,
		PrivateKeyHex: cfg.AuthorityPrivateKey,
		ChainID:       cfg.ChainID,
	})
	if err != nil {
		log.Fatalf("❌ failed to initialize ledger client: %v", err)
	}
	defer ledgerClient.Close()

	var postgres *db.Postgres
	if cfg.DatabaseURL != "" {
		postgres, err = db.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("⚠️  Warning: Failed to connect to PostgreSQL: %v", err)
			log.Println("   Round history persistence and the leaderboard endpoint will be unavailable")
		} else {
			defer postgres.Close()
		}
	}

	var redisClient *db.Redis
	if cfg.RedisURL != "" {
		redisClient, err = db.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Warning: Failed to connect to Redis: %v", err)
			log.Println("   Admin rate limiting and presence tracking will be disabled")
		} else {
			defer redisClient.Close()
		}
	}

	// The hub's snapshot function closes over orch, which it is
	// constructed before: orch is filled in immediately below, and the
	// hub does not call snapshot() until its first subscriber joins.
	var orch *orchestrator.Orchestrator
	h := hub.New(func() hub.Event {
		return hub.Event{Kind: hub.KindState, Data: orch.Snapshot()}
	})

	settlementEngine := settlement.New(ledgerClient)
	exporter := export.New(cfg.ExportDir)

	var roundStore orchestrator.RoundStore
	if postgres != nil {
		roundStore = postgres
	}

	orch = orchestrator.New(orchestrator.Config{
		Coin:            cfg.CoinAddress,
		InitialHP:       cfg.InitialHP,
		BettingDuration: cfg.BettingDuration,
		FightDuration:   cfg.FightDuration,
		FeePercentage:   cfg.FeePercentage,
		Treasury:        common.HexToAddress(cfg.TreasuryWallet),
		AdminSecret:     cfg.AdminSecret,
		AdminWallet:     cfg.AdminWallet,
		Triggers:        interpret.NewKeywordSet(cfg.TriggerKeywords),
		Heals:           interpret.NewKeywordSet(cfg.HealKeywords),
	}, ledgerClient, h, settlementEngine, exporter, roundStore)

	ingestor := ingest.New(cfg.CoinAddress)
	ingestor.Start(ctx)
	go func() {
		for evt := range ingestor.Events() {
			orch.HandleChatEvent(evt)
		}
	}()
	go func() {
		for status := range ingestor.Status() {
			orch.HandleConnStatus(status)
		}
	}()

	apiHandlers := &api.API{
		Orchestrator: orch,
		Ledger:       ledgerClient,
		Hub:          h,
		Postgres:     postgres,
		Redis:        redisClient,
		AdminSecret:  cfg.AdminSecret,
		AdminWallet:  cfg.AdminWallet,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		log.Println("\n🛑 Shutting down server...")

		ingestor.Stop()
		orch.Stop()
		h.Close()
		if postgres != nil {
			postgres.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}

		log.Println("✅ Cleanup complete")
		os.Exit(0)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", corsMiddleware(apiHandlers.HandleOverlayWS))
	mux.HandleFunc("/api/game-status", corsMiddleware(apiHandlers.HandleGameStatus))
	mux.HandleFunc("/api/current-round", corsMiddleware(apiHandlers.HandleCurrentRound))
	mux.HandleFunc("/api/betting-round/", corsMiddleware(apiHandlers.HandleBettingRound))
	mux.HandleFunc("/api/place-bet", corsMiddleware(apiHandlers.HandlePlaceBet))
	mux.HandleFunc("/api/bet-notification", corsMiddleware(apiHandlers.HandleBetNotification))
	mux.HandleFunc("/api/bet-status/", corsMiddleware(apiHandlers.HandleBetStatus))
	mux.HandleFunc("/api/leaderboard", corsMiddleware(apiHandlers.HandleLeaderboard))
	mux.HandleFunc("/api/health", corsMiddleware(apiHandlers.HandleHealth))
	mux.HandleFunc("/test", corsMiddleware(apiHandlers.HandleTestInject))
	mux.HandleFunc("/status", corsMiddleware(apiHandlers.HandleLegacyStatus))
	mux.Handle("/overlay/", http.StripPrefix("/overlay/", http.FileServer(http.Dir("./overlay"))))

	addr := "0.0.0.0:" + cfg.Port
	log.Printf("🚀 Server starting on %s", addr)
	log.Println("")
	log.Println("📡 Overlay WebSocket: ws://" + addr + "/ws")
	log.Println("🎮 Game API:")
	log.Println("   GET  /api/game-status")
	log.Println("   GET  /api/current-round")
	log.Println("   GET  /api/betting-round/:roundId")
	log.Println("   POST /api/place-bet")
	log.Println("   POST /api/bet-notification")
	log.Println("   GET  /api/bet-status/:wallet/:roundId")
	log.Println("   GET  /api/leaderboard")
	log.Println("   GET  /api/health")
	log.Println("   GET  /test?user=&msg=")
	log.Println("   GET  /status")
	log.Println("")

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		log.Fatal("❌ Server error:", err)
	}
}

// corsMiddleware adds CORS headers to allow frontend requests.
func corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}
