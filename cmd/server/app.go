package main

import (
	"context"
	"fmt"

	"github.com/moodjournal/internal/auth"
	"github.com/moodjournal/internal/config"
	"github.com/moodjournal/internal/db"
	"github.com/moodjournal/internal/handler"
	"github.com/moodjournal/internal/logger"
	"github.com/moodjournal/internal/service"
	"github.com/moodjournal/internal/store"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// application 持有一次进程生命周期内的全部组件。
type application struct {
	cfg      config.AppConfig
	log      *logger.Logger
	db       *gorm.DB
	redis    *redis.Client
	tables   store.TableStore
	identity *service.IdentityService
	api      *handler.API
}

func buildApplication(ctx context.Context, cfg config.AppConfig, log *logger.Logger) (*application, error) {
	app := &application{cfg: cfg, log: log}

	var tables store.TableStore
	switch cfg.StoreDriver {
	case "", "gorm":
		if err := db.Init(db.Options{Driver: cfg.DatabaseDriver, Path: cfg.DatabasePath, DSN: cfg.DatabaseDSN}); err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		app.db = db.DB
		tables = store.NewGormStore(db.DB)
	case "memory":
		log.Warn("using in-memory store, data will be lost on restart")
		tables = store.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	app.tables = tables
	loc := cfg.Location()
	system := service.NewSystemSettingService(app.db, service.SystemSettings{
		AIProvider:     cfg.AIProvider,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		DeepSeekAPIKey: cfg.DeepSeekAPIKey,
		GeminiAPIKey:   cfg.GeminiAPIKey,
	})
	completer := service.NewAIChatClient(system, log)

	app.identity = service.NewIdentityService(tables, log)
	digest := service.NewDigestService(tables, loc, log)
	advice := service.NewAdviceService(completer, system, cfg.AITimeout, log)
	entries := service.NewEntryService(tables, digest, advice, loc, cfg.DigestLookback, log)
	chats := service.NewConversationService(tables, completer, cfg.AITimeout, log)

	var gate service.RateGate = service.NewMemoryRateGate()
	if cfg.RedisAddr != "" {
		rdb, err := service.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			log.Warn("redis unavailable, falling back to in-memory rate gate", "error", err)
		} else {
			app.redis = rdb
			gate = service.NewRedisRateGate(rdb, "")
		}
	}

	app.api = handler.NewAPI(handler.Dependencies{
		DB:           app.db,
		Identity:     app.identity,
		Entries:      entries,
		Chats:        chats,
		System:       system,
		Tokens:       auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Gate:         gate,
		RateInterval: cfg.RateLimitInterval,
		Log:          log,
	})

	return app, nil
}

// ensureSuperRoot 在配置了 SUPER_ROOT_* 时创建管理员账号。
func (app *application) ensureSuperRoot(ctx context.Context) error {
	if app.cfg.SuperRootUserName == "" || app.cfg.SuperRootPassword == "" {
		return nil
	}
	return app.identity.EnsureAdmin(ctx, app.cfg.SuperRootUserName, app.cfg.SuperRootPassword)
}

func (app *application) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
