package handlers

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/internal/bridge"
	"github.com/troikatech/pbx-voice-bridge/pkg/ari"
	"github.com/troikatech/pbx-voice-bridge/pkg/audit"
	"github.com/troikatech/pbx-voice-bridge/pkg/calllog"
	"github.com/troikatech/pbx-voice-bridge/pkg/logger"
	"github.com/troikatech/pbx-voice-bridge/pkg/media"
	"github.com/troikatech/pbx-voice-bridge/pkg/mongo"
)

// Operations are the outbound call controls. *bridge.Bridge implements it.
type Operations interface {
	Dial(ctx context.Context, req bridge.DialRequest) (*ari.Channel, error)
	PlayText(ctx context.Context, channelID, text string) (*bridge.PlayResult, error)
	Hangup(ctx context.Context, channelID string) error
}

// ExchangeInfo reports whether the exchange's REST interface answers.
type ExchangeInfo interface {
	Info(ctx context.Context) (*ari.AsteriskInfo, error)
}

type SpeechStatus interface {
	Provider() string
	IsAvailable() bool
}

// Deps wires the handler. Redis and Mongo may be nil; Calls and Audit may be
// nil to disable their endpoints' backing.
type Deps struct {
	Ops      Operations
	Media    *media.Store
	Calls    calllog.Lister
	Audit    *audit.Log
	Exchange ExchangeInfo
	Speech   SpeechStatus
	Redis    *redis.Client
	Mongo    *mongo.Client
	Logger   *zap.Logger
}

type Handler struct {
	ops         Operations
	media       *media.Store
	calls       calllog.Lister
	audit       *audit.Log
	exchange    ExchangeInfo
	speech      SpeechStatus
	redisClient *redis.Client
	mongoClient *mongo.Client
	logger      *zap.Logger
}

func NewHandler(deps Deps) *Handler {
	log := deps.Logger
	if log == nil {
		log = logger.Log
	}
	auditLog := deps.Audit
	if auditLog == nil {
		auditLog = audit.New(nil, log)
	}
	return &Handler{
		ops:         deps.Ops,
		media:       deps.Media,
		calls:       deps.Calls,
		audit:       auditLog,
		exchange:    deps.Exchange,
		speech:      deps.Speech,
		redisClient: deps.Redis,
		mongoClient: deps.Mongo,
		logger:      log,
	}
}
