// Command authgate-server runs the authgate HTTP API.
//
// With -dev it needs no infrastructure: Redis is served by an in-process
// miniredis, accounts live in memory and mail is written to the log.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/accountstore/memory"
	"github.com/MrEthical07/authgate/accountstore/postgres"
	"github.com/MrEthical07/authgate/httpapi"
	"github.com/MrEthical07/authgate/mail"
	otelexport "github.com/MrEthical07/authgate/metrics/export/otel"
	"github.com/MrEthical07/authgate/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type settings struct {
	configPath   string
	addr         string
	dev          bool
	redisAddr    string
	databaseURL  string
	smtp         mail.SMTPConfig
	cookieSecret string
	secureCookie bool
	rps          float64
	burst        int
	trustProxy   bool
	auditLog     string
}

func main() {
	var s settings
	flag.StringVar(&s.configPath, "config", "", "engine TOML config file; built-in defaults when empty")
	flag.StringVar(&s.addr, "addr", ":8080", "listen address")
	flag.BoolVar(&s.dev, "dev", false, "development mode: miniredis, in-memory accounts, log mailer")
	flag.StringVar(&s.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address")
	flag.StringVar(&s.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres DSN; in-memory store when empty in -dev")
	flag.StringVar(&s.smtp.Host, "smtp-host", os.Getenv("SMTP_HOST"), "SMTP relay host; log mailer when empty in -dev")
	flag.IntVar(&s.smtp.Port, "smtp-port", 587, "SMTP relay port")
	flag.StringVar(&s.smtp.From, "smtp-from", "no-reply@localhost", "sender address")
	flag.StringVar(&s.smtp.Username, "smtp-user", os.Getenv("SMTP_USER"), "SMTP username")
	flag.BoolVar(&s.secureCookie, "secure-cookie", true, "set the Secure attribute on the session cookie")
	flag.Float64Var(&s.rps, "rps", 10, "per-IP requests per second; 0 disables")
	flag.IntVar(&s.burst, "burst", 20, "per-IP burst")
	flag.BoolVar(&s.trustProxy, "trust-proxy", false, "take the client IP from X-Forwarded-For")
	flag.StringVar(&s.auditLog, "audit-log", "", "audit output: json (stdout JSON lines), log (structured logger) or empty to disable")
	flag.Parse()
	s.smtp.Password = os.Getenv("SMTP_PASSWORD")
	s.cookieSecret = os.Getenv("COOKIE_SECRET")

	logger, err := newLogger(s.dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, s settings, logger *zap.Logger) error {
	cfg := authgate.DefaultConfig()
	if s.configPath != "" {
		loaded, err := authgate.LoadConfigFile(s.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	sink, err := auditSink(s.auditLog, logger)
	if err != nil {
		return err
	}
	if sink != nil {
		cfg.Audit.Enabled = true
	}

	client, closeRedis, err := openRedis(s, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	accounts, closeDB, err := openAccounts(ctx, s, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	mailer, err := newMailer(s, logger)
	if err != nil {
		return err
	}

	b := authgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(accounts).
		WithMailer(mailer).
		WithLogger(logger)
	if sink != nil {
		b = b.WithAuditSink(sink)
	}
	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	exporter, err := otelexport.New(otel.GetMeterProvider().Meter("authgate"), engine)
	if err != nil {
		return err
	}
	defer func() { _ = exporter.Close() }()

	secret, err := cookieSecret(s, logger)
	if err != nil {
		return err
	}
	api, err := httpapi.New(engine, httpapi.Options{
		CookieSecret:      secret,
		CookieIssuer:      cfg.TOTP.Issuer,
		CookieTTL:         cfg.Session.IdleTTL,
		SecureCookie:      s.secureCookie && !s.dev,
		RequestsPerSecond: s.rps,
		Burst:             s.burst,
		TrustProxyHeaders: s.trustProxy,
		MetricsHandler:    prometheus.New(engine).Handler(),
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", s.addr), zap.Bool("dev", s.dev))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openRedis(s settings, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if s.redisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{s.redisAddr}})
		return client, func() { _ = client.Close() }, nil
	}
	if !s.dev {
		return nil, nil, errors.New("-redis-addr is required outside -dev")
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	logger.Warn("using in-process miniredis; state is lost on exit", zap.String("addr", mr.Addr()))
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func openAccounts(ctx context.Context, s settings, logger *zap.Logger) (authgate.AccountStore, func(), error) {
	if s.databaseURL != "" {
		db, err := postgres.Open(ctx, s.databaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(db), func() { closeDB(db, logger) }, nil
	}
	if !s.dev {
		return nil, nil, errors.New("-database-url is required outside -dev")
	}
	logger.Warn("using in-memory account store")
	return memory.New(), func() {}, nil
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("database close failed", zap.Error(err))
	}
}

func newMailer(s settings, logger *zap.Logger) (authgate.Mailer, error) {
	if s.smtp.Host != "" {
		return mail.NewSMTPMailer(s.smtp), nil
	}
	if !s.dev {
		return nil, errors.New("-smtp-host is required outside -dev")
	}
	return mail.NewLogMailer(logger), nil
}

func auditSink(format string, logger *zap.Logger) (authgate.AuditSink, error) {
	switch format {
	case "":
		return nil, nil
	case "json":
		return authgate.NewJSONWriterSink(os.Stdout), nil
	case "log":
		return authgate.NewLoggerSink(logger), nil
	default:
		return nil, fmt.Errorf("unknown -audit-log format %q", format)
	}
}

func cookieSecret(s settings, logger *zap.Logger) ([]byte, error) {
	if s.cookieSecret != "" {
		if len(s.cookieSecret) < 32 {
			return nil, errors.New("COOKIE_SECRET must be at least 32 bytes")
		}
		return []byte(s.cookieSecret), nil
	}
	if !s.dev {
		return nil, errors.New("COOKIE_SECRET is required outside -dev")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	logger.Warn("generated an ephemeral cookie secret; sessions end on restart")
	return secret, nil
}
