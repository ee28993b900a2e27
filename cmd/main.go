package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-ops/internal/auth"
	"github.com/ukydev/fleet-ops/internal/config"
	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/events"
	"github.com/ukydev/fleet-ops/internal/fleet"
	"github.com/ukydev/fleet-ops/internal/handlers"
	"github.com/ukydev/fleet-ops/internal/middleware"
)

// app is the assembled server and what must be released on shutdown
type app struct {
	store   *db.Store
	handler http.Handler
	mqtt    mqtt.Client
	limiter *middleware.RateLimitMiddleware
}

func (a *app) close(ctx context.Context) {
	if a.mqtt != nil {
		a.mqtt.Disconnect(250)
	}
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if err := a.store.Close(ctx); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (db.Backend, error) {
	switch cfg.Backend {
	case config.BackendMongo:
		mcfg := db.MongoConfig{URI: cfg.MongoURI, Database: cfg.MongoDB}
		client, err := db.ConnectMongo(mcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return db.NewMongoBackend(client, mcfg), nil
	case config.BackendFirestore:
		client, err := db.ConnectFirestore(ctx, db.FirestoreConfig{
			ProjectID:       cfg.FirestoreProjectID,
			CredentialsPath: cfg.FirebaseCredentials,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Firestore: %w", err)
		}
		return db.NewFirestoreBackend(client), nil
	default:
		log.Warn("Using in-memory store; data is lost on restart")
		return db.NewMemoryBackend(), nil
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	backend, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	retry := db.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Store.AtomicMaxAttempts
	a := &app{store: db.NewStore(backend, retry)}

	var publisher events.Publisher = events.Nop{}
	if cfg.MQTT.Broker != "" {
		mcfg := events.MQTTConfig{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientID, TopicPrefix: cfg.MQTT.TopicPrefix, QoS: 1}
		client, err := events.ConnectMQTT(mcfg)
		if err != nil {
			// The event feed is best effort; the API works without it
			log.WithError(err).Warn("MQTT unavailable, lifecycle events will not be published")
		} else {
			a.mqtt = client
			publisher = events.NewMQTTPublisher(client, mcfg)
		}
	}

	authService, err := auth.NewService(cfg.JWT.Secret, cfg.JWT.Expiry)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}
	if cfg.JWT.Secret == "" {
		log.Warn("JWT_SECRET not set, using the default signing secret")
	}

	opts := fleet.Options{Publisher: publisher, Logger: log.NewEntry(log.StandardLogger())}
	thresholds := fleet.ThresholdClassifier{Low: cfg.Fleet.LowStockThreshold, Critical: cfg.Fleet.CriticalStockThreshold}
	inventory := fleet.NewInventory(a.store, thresholds.Classify, opts)

	a.limiter = middleware.NewRateLimitMiddleware(cfg.RateLimit.Requests, cfg.RateLimit.Window())
	a.handler = handlers.NewRouter(handlers.Deps{
		Store:       a.store,
		Users:       db.NewUserStore(a.store.Users),
		Auth:        authService,
		Trips:       fleet.NewTripEngine(a.store, opts),
		Maintenance: fleet.NewMaintenanceEngine(a.store, inventory, cfg.Fleet.FixedServiceCost, opts),
		Inventory:   inventory,
		Roster:      fleet.NewRoster(a.store, opts),
		Dashboard:   fleet.NewDashboard(a.store, inventory),
		RateLimit:   a.limiter,
	})
	return a, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"port": cfg.Server.Port, "store": cfg.Store.Backend}).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		a.close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Closing the store first ends every stream subscription, which lets
	// hijacked websocket handlers return.
	a.close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := config.ConfigureLogging(cfg.Log); err != nil {
		log.Fatalf("Invalid logging configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}
