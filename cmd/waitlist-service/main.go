package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/matunokihanten/noda/internal/clock"
	"github.com/matunokihanten/noda/internal/config"
	"github.com/matunokihanten/noda/internal/estimate"
	"github.com/matunokihanten/noda/internal/events"
	"github.com/matunokihanten/noda/internal/httpapi"
	"github.com/matunokihanten/noda/internal/hub"
	"github.com/matunokihanten/noda/internal/models"
	"github.com/matunokihanten/noda/internal/notify"
	"github.com/matunokihanten/noda/internal/printer"
	"github.com/matunokihanten/noda/internal/queue"
	"github.com/matunokihanten/noda/internal/store"
	"github.com/matunokihanten/noda/internal/store/postgres"
	redisstore "github.com/matunokihanten/noda/internal/store/redis"
	"github.com/matunokihanten/noda/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry, err := telemetry.Setup(context.Background(), telemetry.OptionsFromEnv(cfg.ServiceName, cfg.ShopName))
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	}

	snapshots, err := openSnapshotStore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("state store: %v", err)
	}
	defer snapshots.Close()

	channel := printer.NewChannel(time.Now)
	spooler := printer.NewSpooler(printer.NewEncoder(cfg.ShopName, cfg.TimeZone), channel)
	dispatcher := notify.NewDispatcher(notificationChain(cfg), cfg.ShopEmail, cfg.ShopName, cfg.NotifyTimeout)

	waitlist := queue.NewStore(clock.Real(), queue.Options{
		AbsenceTimeout:    cfg.AbsenceTimeout,
		Location:          cfg.TimeZone,
		RolloverPolicy:    cfg.RolloverPolicy,
		ShopAutoArrive:    cfg.ShopAutoArrive,
		MaxPartySize:      cfg.MaxPartySize,
		WaitAverageWindow: cfg.WaitAverageWindow,
		Estimate: estimate.Policy{
			FloorMinutes:    cfg.EstimateFloorMinutes,
			SafetyFactor:    cfg.EstimateSafetyFactor,
			RoundingMinutes: cfg.EstimateRoundingMinutes,
		},
		Settings: models.Settings{
			PrinterEnabled:         cfg.PrinterEnabled,
			WaitTimeDisplayEnabled: cfg.WaitDisplayEnabled,
		},
		Spooler:  spooler,
		Notifier: dispatcher,
	})

	viewers := hub.New(waitlist)
	writer := store.NewWriter(snapshots, cfg.PersistInterval)
	waitlist.OnCommit(viewers.Publish)
	waitlist.OnCommit(writer.Enqueue)

	var nc *nats.Conn
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		nc, err = events.Connect(cfg.NATSURL, cfg.ServiceName)
		if err != nil {
			log.Printf("nats connect failed, events disabled: %v", err)
		} else {
			publisher = events.NewPublisher(nc, cfg.NATSSubject)
			waitlist.OnCommit(publisher.Observe)
		}
	}

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 10*time.Second)
	state, found, err := snapshots.Load(loadCtx)
	cancelLoad()
	switch {
	case err != nil:
		log.Printf("load state failed, starting empty: %v", err)
	case found:
		waitlist.Restore(state)
		log.Printf("state restored version=%d tickets=%d", state.Version, len(state.Tickets))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(writer.Run)
	run(dispatcher.Run)
	run(func(ctx context.Context) { waitlist.RunRollover(ctx, cfg.RolloverInterval) })
	if publisher != nil {
		run(publisher.Run)
	}

	handler := httpapi.NewHandler(waitlist, channel, viewers, httpapi.Options{
		RateLimit: httpapi.RateLimitConfig{
			PerMinute: cfg.RateLimitPerMinute,
			Burst:     cfg.RateLimitBurst,
		},
		AllowedOrigins: cfg.AllowedOrigins,
	})
	// No write timeout: streaming viewer sessions stay open for hours.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpapi.LoggingMiddleware(handler.Routes()), cfg.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("%s listening on %s shop=%q store=%s", cfg.ServiceName, server.Addr, cfg.ShopName, cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	waitlist.Stop()
	cancel()
	wg.Wait()
	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Printf("nats drain error: %v", err)
		}
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown error: %v", err)
	}
}

func openSnapshotStore(ctx context.Context, cfg config.Config) (store.SnapshotStore, error) {
	switch cfg.StoreBackend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		s := postgres.NewStore(pool, postgres.DefaultKey)
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.EnsureSchema(schemaCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return s, nil
	case "redis":
		client := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		return redisstore.NewStore(client, cfg.RedisKey), nil
	case "file", "":
		return store.NewFileStore(cfg.DataFile), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// notificationChain orders the configured mail and chat providers by
// preference. The log provider always comes last so a message is never
// silently lost.
func notificationChain(cfg config.Config) *notify.Chain {
	var providers []notify.Provider
	if cfg.SendGridAPIKey != "" {
		providers = append(providers, notify.NewSendGrid(cfg.SendGridAPIKey, cfg.MailFrom, cfg.NotifyTimeout))
	}
	if cfg.SMTPUser != "" && cfg.SMTPPassword != "" {
		providers = append(providers, notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}))
	}
	if cfg.LINEChannelToken != "" {
		providers = append(providers, notify.NewLINE(cfg.LINEChannelToken, cfg.LINETo, cfg.NotifyTimeout))
	}
	if cfg.WebhookURL != "" {
		providers = append(providers, notify.NewWebhook(cfg.WebhookURL, "", cfg.NotifyTimeout))
	}
	providers = append(providers, notify.LogProvider{})
	return notify.NewChain(providers...)
}
