package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/themindlocksyndicate/tmls-companion/auth"
	"github.com/themindlocksyndicate/tmls-companion/broadcast"
	"github.com/themindlocksyndicate/tmls-companion/config"
	"github.com/themindlocksyndicate/tmls-companion/deck"
	"github.com/themindlocksyndicate/tmls-companion/draw"
	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/monitor"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
	"github.com/themindlocksyndicate/tmls-companion/room"
	"github.com/themindlocksyndicate/tmls-companion/rpc"
	"github.com/themindlocksyndicate/tmls-companion/server"
	"github.com/themindlocksyndicate/tmls-companion/services"
	"github.com/themindlocksyndicate/tmls-companion/session"
	"github.com/themindlocksyndicate/tmls-companion/timer"
)

// openStore picks the persistence backend named by the configuration.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (persistence.Store, error) {
	switch cfg.Driver {
	case "postgres":
		pg := cfg.Postgres
		return persistence.NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.NotifyChannel)
	case "firestore":
		return persistence.NewFirestoreStore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
	case "memory":
		return persistence.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Init()
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if cfg.Server.LogMode == "development" {
		logger.InitDevelopment()
	} else {
		logger.Init()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer store.Close()
	logger.Log.Infof("Store %s ready.", cfg.Database.Driver)

	mon := monitor.NewMonitor("tmls")
	decks := deck.NewLoader(cfg.Dataset.BaseURL, cfg.Dataset.DefaultDeck, &http.Client{Timeout: cfg.Dataset.HTTPTimeout})

	var drawer draw.Strategy = draw.NewEventLogDraw(store, decks, mon)
	if cfg.Room.DrawStrategy == draw.StrategyTransactional {
		drawer = draw.NewTransactionalIndexDraw(store, decks, mon)
	}

	rooms := services.NewRoomService(store, mon, cfg.Room.PurgePageSize)
	sessions := session.NewManager()
	roomManager := room.NewRoomManager(store, decks, broadcast.NewRoomBroadcaster(sessions), mon, decks.DefaultDeck())
	timers := timer.NewTimerManager()
	defer timers.Stop()

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewRoomAdmin(store, rooms))
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	go rpcServer.Start()
	defer rpcServer.Stop()

	srv := server.NewServer(server.Options{
		Addr:              cfg.Server.HTTPAddress,
		Rooms:             rooms,
		RoomManager:       roomManager,
		SessionManager:    sessions,
		Drawer:            drawer,
		Decks:             decks,
		Identity:          auth.NewIdentity(cfg.Auth.IdentitySecret, cfg.Auth.TokenTTL),
		Attestation:       auth.NewAttestation(cfg.Auth.AttestationSecret, cfg.Auth.AttestationHeader),
		Timers:            timers,
		Monitor:           mon,
		HeartbeatInterval: cfg.Room.HeartbeatInterval,
	})

	go func() {
		<-ctx.Done()
		logger.Log.Info("Shutting down.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Log.Warnf("Shutdown: %v", err)
		}
	}()

	// Start Server
	logger.Log.Infof("Starting companion server on %s (draw strategy %s)", cfg.Server.HTTPAddress, drawer.Name())
	if err := srv.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
