package handler

import (
	"time"

	"github.com/moodjournal/internal/auth"
	"github.com/moodjournal/internal/logger"
	"github.com/moodjournal/internal/service"
	"gorm.io/gorm"
)

// Dependencies 汇总 HTTP 层需要的服务。
type Dependencies struct {
	DB           *gorm.DB
	Identity     *service.IdentityService
	Entries      *service.EntryService
	Chats        *service.ConversationService
	System       *service.SystemSettingService
	Tokens       *auth.TokenIssuer
	Gate         service.RateGate
	RateInterval time.Duration
	Log          *logger.Logger
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db           *gorm.DB
	identity     *service.IdentityService
	entries      *service.EntryService
	chats        *service.ConversationService
	system       *service.SystemSettingService
	tokens       *auth.TokenIssuer
	gate         service.RateGate
	rateInterval time.Duration
	log          *logger.Logger
}

// NewAPI constructs a handler set with shared services.
func NewAPI(deps Dependencies) *API {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	gate := deps.Gate
	if gate == nil {
		gate = service.NewMemoryRateGate()
	}

	return &API{
		db:           deps.DB,
		identity:     deps.Identity,
		entries:      deps.Entries,
		chats:        deps.Chats,
		system:       deps.System,
		tokens:       deps.Tokens,
		gate:         gate,
		rateInterval: deps.RateInterval,
		log:          log.With("component", "handler"),
	}
}

// DB exposes the underlying gorm instance, nil when running on the memory store.
func (a *API) DB() *gorm.DB {
	return a.db
}
