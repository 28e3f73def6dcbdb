package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/contact-orchestrator/internal/api"
	"github.com/ignite/contact-orchestrator/internal/channels"
	"github.com/ignite/contact-orchestrator/internal/config"
	"github.com/ignite/contact-orchestrator/internal/dispatch"
	"github.com/ignite/contact-orchestrator/internal/media"
	"github.com/ignite/contact-orchestrator/internal/pkg/distlock"
	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
	"github.com/ignite/contact-orchestrator/internal/repository/dynamo"
	"github.com/ignite/contact-orchestrator/internal/repository/file"
	"github.com/ignite/contact-orchestrator/internal/repository/postgres"
	"github.com/ignite/contact-orchestrator/internal/service/contact"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale/stub processes occupying the port.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v\n"+
			"  Hint: is cmd/stub-api or another orchestrator already running?", addr, err)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Contact Orchestrator (cmd/server/main.go)                ║")
	log.Println("║  Intake API + messaging / connector / notifier dispatch   ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.ShouldRedact())

	if err := checkPortAvailable(cfg.Server.Addr()); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := api.NewHealthChecker(nil, nil)

	// Contact store
	var (
		repo contact.Repository
		db   *sql.DB
	)
	switch cfg.Storage.Type {
	case "postgres":
		if cfg.Storage.DatabaseURL == "" {
			log.Fatal("storage.type=postgres requires DATABASE_URL")
		}
		db, err = sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		db.SetMaxOpenConns(cfg.Dispatch.DatabaseMaxOpenConns())
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			log.Fatalf("Failed to reach database at %s: %v", extractHost(cfg.Storage.DatabaseURL), err)
		}
		pingCancel()
		repo = postgres.NewContactRepo(db)
		health.AddCheck("store", true, db.PingContext)
		log.Printf("Contact store: PostgreSQL at %s", extractHost(cfg.Storage.DatabaseURL))
	case "dynamo":
		dyn, err := dynamo.NewContactRepoFromConfig(ctx, cfg.Storage.DynamoDBTable, cfg.Storage.AWSRegion, cfg.Storage.AWSProfile)
		if err != nil {
			log.Fatalf("Failed to initialize DynamoDB store: %v", err)
		}
		repo = dyn
		log.Printf("Contact store: DynamoDB table %s (%s)", cfg.Storage.DynamoDBTable, cfg.Storage.AWSRegion)
	default:
		fs, err := file.NewContactRepo(cfg.Storage.LocalPath)
		if err != nil {
			log.Fatalf("Failed to initialize file store: %v", err)
		}
		repo = fs
		dir := cfg.Storage.LocalPath
		health.AddCheck("store", true, func(context.Context) error {
			_, err := os.Stat(dir)
			return err
		})
		log.Printf("Contact store: files under %s", dir)
	}

	// Media blobs
	var mediaStore media.Store
	switch cfg.Media.Type {
	case "s3":
		s3Store, err := media.NewS3StoreFromConfig(ctx, cfg.Media.S3Bucket, cfg.Media.S3Prefix, cfg.Media.AWSRegion, cfg.Storage.AWSProfile)
		if err != nil {
			log.Fatalf("Failed to initialize S3 media store: %v", err)
		}
		mediaStore = s3Store
		log.Printf("Media store: s3://%s/%s", cfg.Media.S3Bucket, cfg.Media.S3Prefix)
	default:
		local, err := media.NewLocalStore(cfg.Media.LocalPath)
		if err != nil {
			log.Fatalf("Failed to initialize media store: %v", err)
		}
		mediaStore = local
		log.Printf("Media store: files under %s", cfg.Media.LocalPath)
	}

	// Redis (optional): cross-instance dispatch locks
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		health.AddCheck("redis", false, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	locks := distlock.NewFactory(redisClient, db)
	log.Printf("Dispatch locks: %s", locks.Backend())

	// Channel clients
	templates := channels.NewTemplates()
	for name, src := range map[string]string{
		"messaging.greeting_template": cfg.Messaging.GreetingTemplate,
		"connector.note_template":     cfg.Connector.NoteTemplate,
		"notifier.subject_template":   cfg.Notifier.SubjectTemplate,
		"notifier.body_template":      cfg.Notifier.BodyTemplate,
	} {
		if src == "" {
			continue
		}
		if err := templates.Validate(src); err != nil {
			log.Fatalf("Invalid %s: %v", name, err)
		}
	}

	var clients []channels.Client
	var fetcher contact.MediaFetcher
	if cfg.Messaging.BaseURL != "" {
		messaging := channels.NewMessagingClient(cfg.Messaging, templates)
		clients = append(clients, messaging)
		fetcher = messaging
		log.Printf("Messaging channel: %s", cfg.Messaging.BaseURL)
	} else {
		log.Println("Messaging channel not configured (MESSAGING_BRIDGE_URL unset)")
	}
	if cfg.Connector.BaseURL != "" {
		clients = append(clients, channels.NewConnectorClient(cfg.Connector, templates))
		log.Printf("Connector channel: %s", cfg.Connector.BaseURL)
	} else {
		log.Println("Connector channel not configured (CONNECTOR_URL unset)")
	}
	if cfg.Notifier.Enabled() {
		var mailer channels.Mailer
		switch cfg.Notifier.Provider {
		case "ses":
			ses, err := channels.NewSESMailerFromConfig(ctx, cfg.Notifier)
			if err != nil {
				log.Fatalf("Failed to initialize SES notifier: %v", err)
			}
			mailer = ses
		case "smtp":
			mailer = channels.NewSMTPMailer(cfg.Notifier)
		}
		clients = append(clients, channels.NewNotifierClient(cfg.Notifier, mailer, mediaStore, templates))
		log.Printf("Notifier channel: %s from %s", cfg.Notifier.Provider, cfg.Notifier.From)
	} else {
		log.Println("Notifier channel disabled")
	}
	registry := channels.NewRegistry(clients...)

	// Dispatch
	pool := dispatch.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize)
	pool.Start()

	attemptTimeout := dispatch.DefaultAttemptTimeout
	if t := cfg.Connector.Timeout() + 30*time.Second; t > attemptTimeout {
		attemptTimeout = t
	}
	coordinator := dispatch.NewCoordinator(repo, registry, pool, locks, dispatch.Config{
		StatusWriteTimeout: cfg.Dispatch.StatusWriteTimeout(),
		AttemptTimeout:     attemptTimeout,
	})

	recovery := dispatch.NewRecovery(repo, coordinator, locks, dispatch.RecoveryConfig{
		Interval:     cfg.Dispatch.RecoveryInterval(),
		PendingGrace: cfg.Dispatch.PendingGrace(),
		StaleAfter:   cfg.Dispatch.StaleAfter(),
	})
	go recovery.Start(ctx)

	profilePattern, err := regexp.Compile(cfg.Connector.ProfilePattern)
	if err != nil {
		log.Fatalf("Invalid connector.profile_pattern: %v", err)
	}
	svc := contact.NewService(repo, coordinator, mediaStore, contact.Options{
		ProfilePattern: profilePattern,
		Enabled:        registry.Has,
		Fetcher:        fetcher,
	})

	health.SetDispatch(registry, coordinator.Stats)
	server := api.NewServer(cfg.Server, api.NewHandlers(svc, mediaStore), health)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized; server is ready")

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Stop the sweep, then let in-flight attempts record their results.
	cancel()
	pool.Stop()

	if err := repo.Close(); err != nil {
		log.Printf("Store close error: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Println("Server stopped")
}
