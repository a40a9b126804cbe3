package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/api"
	"taskboard/identity"
	"taskboard/storage"
)

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	configTable := os.Getenv("CONFIG_TABLE")
	deadLetterQueue := os.Getenv("DEAD_LETTER_QUEUE")
	if connStr == "" || configTable == "" || deadLetterQueue == "" {
		log.Fatal("missing storage config")
	}
	tableStore, err := storage.NewTableConfigStore(connStr, configTable)
	if err != nil {
		log.Fatalf("config store: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(parseRedis(redisConn))
	configs := storage.NewConfigCache(tableStore, rc, durationEnv("CONFIG_CACHE_TTL", time.Minute))
	deduper := api.NewRedisDeduper(rc, durationEnv("DEDUPER_TTL", 24*time.Hour))

	queue, err := storage.NewDeadLetterQueue(connStr, deadLetterQueue, durationEnv("DEAD_LETTER_TTL", 7*24*time.Hour))
	if err != nil {
		log.Fatalf("dead-letter queue: %v", err)
	}
	dispatcher := api.NewDispatcher(queue, api.DispatcherConfigFromEnv(), logger)
	defer dispatcher.Close()

	repos := storage.NewFactory(storage.Options{
		AirtableBaseURL:   os.Getenv("AIRTABLE_API_URL"),
		SheetsBaseURL:     os.Getenv("GOOGLE_SHEETS_API_URL"),
		SheetsClientEmail: os.Getenv("GOOGLE_SHEET_CLIENT_EMAIL"),
		SheetsPrivateKey:  os.Getenv("GOOGLE_SHEET_PRIVATE_KEY"),
		RequestTimeout:    durationEnv("BACKEND_TIMEOUT", 30*time.Second),
	}, breakerConfig(), logger)

	ident := identity.NewClient(os.Getenv("COPILOT_API_URL"), nil, logger)

	authCfg, err := api.AuthConfigFromEnv()
	if err != nil {
		log.Fatalf("auth config: %v", err)
	}
	if !authCfg.TestMode() {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		authCfg.JWKS = jwks
		authCfg.Audience = jwtAudience
		authCfg.Issuer = "https://" + domain + "/"
	}
	auth := api.NewAuth(authCfg)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.IdempotencyHeader},
		AllowMethods: []string{echo.GET, echo.POST, echo.PATCH, echo.OPTIONS},
	}))
	e.Use(api.RequestBodyMiddleware(1 << 20))

	api.Register(e, api.Services{
		Configs:     configs,
		Repos:       repos,
		Identity:    ident,
		Auth:        auth,
		Deduper:     deduper,
		DeadLetters: dispatcher,
		Logger:      logger,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}
	if err := e.Start(listenAddr); err != nil {
		logger.WithError(err).Error("server stopped")
	}
}

// parseRedis accepts a redis:// URL or the Azure "host:port,password=...,ssl=True" form.
func parseRedis(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func durationEnv(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", name, v)
	}
	return d
}

func breakerConfig() storage.BreakerConfig {
	cfg := storage.DefaultBreakerConfig()
	if v := os.Getenv("BREAKER_FAILURES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			log.Fatalf("invalid BREAKER_FAILURES: %v", v)
		}
		cfg.FailureThreshold = uint32(n)
	}
	cfg.Timeout = durationEnv("BREAKER_TIMEOUT", cfg.Timeout)
	cfg.Interval = durationEnv("BREAKER_INTERVAL", cfg.Interval)
	return cfg
}
