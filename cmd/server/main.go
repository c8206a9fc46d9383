package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"fund-connect/internal/auth"
	"fund-connect/internal/cache"
	"fund-connect/internal/config"
	"fund-connect/internal/funds"
	"fund-connect/internal/hub"
	"fund-connect/internal/identity"
	"fund-connect/internal/logging"
	"fund-connect/internal/messaging"
	"fund-connect/internal/metrics"
	"fund-connect/internal/middleware"
	"fund-connect/internal/server"
	"fund-connect/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL, store.Options{MaxOpenConns: cfg.DBMaxOpenConns, Logger: logger})
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	m := metrics.New()
	liveHub := hub.New(m)

	var (
		publisher messaging.Publisher = liveHub
		roleCache cache.Cache
		relayDone = make(chan struct{})
	)
	if cfg.RedisURL != "" {
		rc, err := cache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rc.Close()
		roleCache = rc

		relay := hub.NewRelay(rc.Client(), liveHub, logger)
		publisher = relay
		go func() {
			defer close(relayDone)
			if err := relay.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("live relay stopped", "error", err)
			}
		}()
	} else {
		close(relayDone)
		logger.Info("REDIS_URL not set; role cache disabled and live updates are local to this instance")
	}

	ids := identity.NewService(st, identity.Options{
		Cache:    roleCache,
		CacheTTL: cfg.RoleCacheTTL,
		Logger:   logger,
		Metrics:  m,
	})
	msgs := messaging.NewService(st, ids, messaging.Options{Publisher: publisher, Logger: logger, Metrics: m})
	fs := funds.NewService(st, ids, funds.Options{Logger: logger})

	limiter := middleware.NewRateLimiter(cfg.MessageRateLimit, time.Minute)
	defer limiter.Close()

	router := server.NewRouter(server.Deps{
		Identity:  ids,
		Messaging: msgs,
		Funds:     fs,
		Hub:       liveHub,
		TokenConfig: auth.TokenConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		},
		MessageLimiter: limiter,
		Logger:         logger,
		Metrics:        m,
		Ready:          st.Ping,
		Closing:        ctx.Done(),
	})

	err = server.Run(ctx, cfg, router, logger)
	stop()
	<-relayDone
	return err
}
