package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/unirides/internal/auth"
	"github.com/example/unirides/internal/config"
	"github.com/example/unirides/internal/coordinator"
	"github.com/example/unirides/internal/dispatch"
	"github.com/example/unirides/internal/events"
	httpapi "github.com/example/unirides/internal/http"
	"github.com/example/unirides/internal/logging"
	"github.com/example/unirides/internal/mailer"
	"github.com/example/unirides/internal/otp"
	"github.com/example/unirides/internal/payments"
	"github.com/example/unirides/internal/rides"
	"github.com/example/unirides/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		// no logger yet; stderr is all we have
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
		logger.Info("using postgres store")
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("PG_DSN not set, using in-memory store (data is not persisted)")
	}

	var codes otp.Codes
	if cfg.RedisAddr != "" {
		rc := otp.NewRedisCodes(cfg.RedisAddr, cfg.RedisPassword)
		defer rc.Close()
		codes = rc
		logger.Info("using redis OTP store", "addr", cfg.RedisAddr)
	} else {
		codes = otp.NewMemoryCodes()
		logger.Warn("REDIS_ADDR not set, using in-memory OTP store")
	}

	var mail mailer.Sender
	echoResetCode := false
	if cfg.SMTPAddr != "" {
		mail = &mailer.SMTPSender{
			Addr:     cfg.SMTPAddr,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}
	} else {
		mail = &mailer.LogSender{Logger: logger}
		echoResetCode = true
		logger.Warn("SMTP_ADDR not set, mails go to the log")
	}

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	registry := dispatch.NewWSRegistry()

	coord := coordinator.New(store, logger)
	coord.Alerts = registry
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer pub.Close()
		coord.Events = pub
		logger.Info("publishing ride events", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}
	if cfg.StripeAPIKey != "" {
		coord.Fares = payments.NewStripeClient(cfg.StripeAPIKey)
		logger.Info("fare holds enabled")
	}

	srv := httpapi.NewServer(httpapi.Options{
		Logger:        logger,
		Auth:          &auth.Service{Store: store, Codes: codes, Mail: mail, Tokens: tokens, Logger: logger},
		Rides:         &rides.Service{Store: store},
		Coordinator:   coord,
		Store:         store,
		Tokens:        tokens,
		WS:            registry,
		EchoResetCode: echoResetCode,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("unirides api listening", "addr", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server stopped", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// runMigrations applies migrations/001_init.sql when MIGRATE=true. Best
// effort: a failed migration is logged and startup continues, matching how a
// dev loop with an already-migrated database behaves.
func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open failed", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		logger.Error("migration read failed", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec failed", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_init.sql")
}
