// Package notify 发布账务状态变更事件，供外部通知投递使用
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dumeirei/affiliate-ledger/internal/common/config"
)

// 事件类型
const (
	EventPayoutRequested        = "payout.requested"
	EventPayoutCompleted        = "payout.completed"
	EventPayoutRejected         = "payout.rejected"
	EventReconciliationRequired = "reconciliation.required"
)

// 发布方式
const (
	DriverLog   = "log"
	DriverRedis = "redis"
	DriverMQTT  = "mqtt"
)

// Event 账务事件
type Event struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AffiliateID  int64           `json:"affiliate_id"`
	PayoutID     int64           `json:"payout_id,omitempty"`
	ConversionID int64           `json:"conversion_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// NewEvent 创建事件
func NewEvent(eventType string, affiliateID int64, amount decimal.Decimal, status string, at time.Time) *Event {
	return &Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		AffiliateID: affiliateID,
		Amount:      amount,
		Status:      status,
		OccurredAt:  at.UTC(),
	}
}

// Publisher 事件发布者
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// RedisPublisher 以 RPUSH 写入 Redis 列表
type RedisPublisher struct {
	client *redis.Client
	key    string
}

// NewRedisPublisher 创建 Redis 发布者
func NewRedisPublisher(client *redis.Client, key string) *RedisPublisher {
	return &RedisPublisher{client: client, key: key}
}

// Publish 发布事件
func (p *RedisPublisher) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.client.RPush(ctx, p.key, data).Err()
}

// MQTTSender MQTT 发送能力，由 pkg/mqtt.Client 实现
type MQTTSender interface {
	PublishWithContext(ctx context.Context, topic string, payload interface{}) error
}

// MQTTPublisher 按事件类型发布到 MQTT 主题
type MQTTPublisher struct {
	sender MQTTSender
	topic  string
}

// NewMQTTPublisher 创建 MQTT 发布者，topic 形如 affiliate/events
func NewMQTTPublisher(sender MQTTSender, topic string) *MQTTPublisher {
	return &MQTTPublisher{sender: sender, topic: topic}
}

// Topic 事件对应的主题
func (p *MQTTPublisher) Topic(event *Event) string {
	return p.topic + "/" + event.Type
}

// Publish 发布事件
func (p *MQTTPublisher) Publish(ctx context.Context, event *Event) error {
	return p.sender.PublishWithContext(ctx, p.Topic(event), event)
}

// LogPublisher 仅写日志，用于未接入消息通道的环境
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher 创建日志发布者
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("notify")}
}

// Publish 发布事件
func (p *LogPublisher) Publish(_ context.Context, event *Event) error {
	p.logger.Info("ledger event",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.Int64("affiliate_id", event.AffiliateID),
		zap.Int64("payout_id", event.PayoutID),
		zap.Int64("conversion_id", event.ConversionID),
		zap.String("amount", event.Amount.StringFixed(2)),
		zap.String("status", event.Status),
	)
	return nil
}

// New 按配置创建发布者
func New(cfg *config.NotifyConfig, mqttCfg *config.MQTTConfig, rdb *redis.Client, sender MQTTSender, logger *zap.Logger) (Publisher, error) {
	switch cfg.Driver {
	case DriverRedis:
		if rdb == nil {
			return nil, fmt.Errorf("notify driver redis requires a redis client")
		}
		return NewRedisPublisher(rdb, cfg.RedisKey), nil
	case DriverMQTT:
		if sender == nil {
			return nil, fmt.Errorf("notify driver mqtt requires an mqtt client")
		}
		return NewMQTTPublisher(sender, mqttCfg.TopicPrefix+cfg.Topic), nil
	case DriverLog, "":
		return NewLogPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unknown notify driver: %s", cfg.Driver)
	}
}
