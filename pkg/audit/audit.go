package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/mongo"
)

const collection = "audit_log"

// Action represents an audit action
type Action string

const (
	ActionDial   Action = "dial"
	ActionPlay   Action = "play"
	ActionHangup Action = "hangup"
)

type Entry struct {
	Operator  string                 `bson:"operator" json:"operator"`
	Action    Action                 `bson:"action" json:"action"`
	ChannelID string                 `bson:"channel_id,omitempty" json:"channel_id,omitempty"`
	Success   bool                   `bson:"success" json:"success"`
	Metadata  map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt time.Time              `bson:"created_at" json:"created_at"`
}

// Log records operator actions on the outbound API. Every entry goes to the
// structured log; entries are also persisted when MongoDB is configured.
type Log struct {
	client *mongo.Client
	logger *zap.Logger
}

func New(client *mongo.Client, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{client: client, logger: logger.Named("audit")}
}

// Record writes one entry. Persistence failures are logged and returned but
// never fail the action being audited.
func (l *Log) Record(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	l.logger.Info("Audit",
		zap.String("operator", entry.Operator),
		zap.String("action", string(entry.Action)),
		zap.String("channel_id", entry.ChannelID),
		zap.Bool("success", entry.Success),
	)

	if l.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := l.client.NewQuery(collection).Insert(ctx, entry); err != nil {
		l.logger.Error("Failed to persist audit entry",
			zap.Error(err),
			zap.String("action", string(entry.Action)),
		)
		return err
	}
	return nil
}
