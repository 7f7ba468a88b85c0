package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/medico24/medico24-auth/internal/config"
	"github.com/medico24/medico24-auth/internal/domain"
	"github.com/medico24/medico24-auth/internal/health"
	"github.com/medico24/medico24-auth/internal/http/handler"
	"github.com/medico24/medico24-auth/internal/http/middleware"
	"github.com/medico24/medico24-auth/internal/http/router"
	"github.com/medico24/medico24-auth/internal/repository"
	"github.com/medico24/medico24-auth/internal/security"
	"github.com/medico24/medico24-auth/internal/service"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = 5 * time.Minute
	cleanupInterval = time.Hour
)

// App owns every long-lived component of the service and their shutdown
// order.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db     *gorm.DB
	rdb    redis.UniversalClient
	server *http.Server

	localLimiters []*middleware.LocalSlidingWindowLimiter
	tokenLedger   repository.RefreshTokenRepository
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.Identity{}, &domain.FederatedIdentity{}, &domain.RefreshToken{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.db = db

	if cfg.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUser,
			Password: cfg.RedisPass,
		})
	}

	identities := repository.NewIdentityRepository(db)
	ledger := repository.NewRefreshTokenRepository(db)
	a.tokenLedger = ledger

	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
	tokens := service.NewTokenService(jwtMgr, ledger, cfg.RefreshPepper, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	var sessions service.SessionCacheStore
	if a.rdb != nil {
		sessions = service.NewRedisSessionCacheStore(a.rdb, "session_cache")
	} else {
		sessions = service.NewInMemorySessionCacheStore()
	}

	var provider service.OAuthProvider
	if cfg.AuthGoogleEnabled {
		provider = service.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}
	oauth := service.NewOAuthService(provider, identities, cfg.AuthGoogleAutoLinkEmail, cfg.OAuthExchangeTimeout)

	auth := service.NewAuthService(identities, tokens, oauth, sessions, logger, cfg.SessionCacheMode, cfg.CacheRetryBackoff)

	authLimiter := a.newLimiter(cfg.AuthRateLimitRPM, cfg.RateLimitWindow)
	apiLimiter := a.newLimiter(cfg.APIRateLimitRPM, cfg.RateLimitWindow)

	checkers := []health.Checker{health.NewGormChecker(db)}
	if a.rdb != nil {
		checkers = append(checkers, health.NewRedisChecker(a.rdb))
	}
	probe := health.NewProbeRunner(time.Second, 2*time.Second, checkers...)

	h := router.New(router.Deps{
		Config:         cfg,
		Logger:         logger,
		JWTManager:     jwtMgr,
		AuthHandler:    handler.NewAuthHandler(auth, cfg),
		SessionHandler: handler.NewSessionHandler(auth, cfg),
		Probe:          probe,
		AuthLimiter:    authLimiter,
		APILimiter:     apiLimiter,
	})

	a.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return a, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if cfg.DatabaseURL != "" {
		return gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	}
	// Development fallback: in-memory store, gone on restart.
	return gorm.Open(sqlite.Open("file::memory:?cache=shared"), gormCfg)
}

func (a *App) newLimiter(limit int, window time.Duration) middleware.Limiter {
	if a.rdb != nil {
		return middleware.NewRedisSlidingWindowLimiter(a.rdb, "ratelimit", limit, window)
	}
	l := middleware.NewLocalSlidingWindowLimiter(limit, window)
	a.localLimiters = append(a.localLimiters, l)
	return l
}

// Run serves until the context is canceled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, l := range a.localLimiters {
					l.Sweep()
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := a.tokenLedger.CleanupExpired(time.Now().UTC())
				if err != nil {
					a.logger.Warn("refresh token cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					a.logger.Info("expired refresh tokens removed", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	err := g.Wait()
	if a.rdb != nil {
		if cerr := a.rdb.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
