package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gameledger/internal/config"
	"gameledger/internal/infrastructure/mq"
	"gameledger/pkg/idgen"
)

// ============================================================================
// 出站通知
// ============================================================================
//
// 两条通道，都是尽力而为、都不在请求线程上等待：
//   - Redis 发布/订阅：面向游戏服的玩家到账提示
//   - Kafka：          面向运营侧的告警与转账事件流
//
// 两者都允许为 nil（配置关闭时），调用方不需要判空。
// ============================================================================

type Notifier struct {
	cfg      *config.Holder
	redis    *redis.Client // 可为 nil
	producer *mq.Producer  // 可为 nil
	log      *logrus.Logger
}

func NewNotifier(cfg *config.Holder, rdb *redis.Client, producer *mq.Producer, log *logrus.Logger) *Notifier {
	return &Notifier{cfg: cfg, redis: rdb, producer: producer, log: log}
}

// playerMessage 发给游戏服的到账提示
type playerMessage struct {
	PlayerID string `json:"player_id"`
	Kind     string `json:"kind"`
	Text     string `json:"text"`
	AtMs     int64  `json:"at_ms"`
}

// NotifyPlayer 向玩家推送一条提示，异步发布，失败只告警
func (n *Notifier) NotifyPlayer(playerID uuid.UUID, kind, text string) {
	if n.redis == nil {
		return
	}
	channel := n.cfg.Get().Redis.NotifyChannel
	if channel == "" {
		return
	}

	payload, err := json.Marshal(playerMessage{
		PlayerID: playerID.String(),
		Kind:     kind,
		Text:     text,
		AtMs:     time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := n.redis.Publish(ctx, channel, payload).Err(); err != nil {
			n.log.WithError(err).Warn("[Notifier] 玩家通知发布失败")
		}
	}()
}

// adminAlert 运营告警消息体
type adminAlert struct {
	EventNo  string  `json:"event_no"`
	PlayerID string  `json:"player_id"`
	Reason   string  `json:"reason"`
	Amount   float64 `json:"amount"`
	AtMs     int64   `json:"at_ms"`
}

// AdminAlert 反滥用命中时向运营侧告警
func (n *Notifier) AdminAlert(playerID uuid.UUID, reason string, amount float64) {
	if n.producer == nil {
		return
	}
	topic := n.cfg.Get().Kafka.Topic.AdminAlerts
	if topic == "" {
		return
	}

	payload, err := json.Marshal(adminAlert{
		EventNo:  idgen.GenerateEventNo(),
		PlayerID: playerID.String(),
		Reason:   reason,
		Amount:   amount,
		AtMs:     time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	go func() {
		if err := n.producer.Send(topic, playerID.String(), payload); err != nil {
			n.log.WithError(err).Warn("[Notifier] 运营告警发送失败")
		}
	}()
}

// transferEvent 转账完成事件
type transferEvent struct {
	EventNo  string  `json:"event_no"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Amount   float64 `json:"amount"`
	Tax      float64 `json:"tax"`
	Received float64 `json:"received"`
	AtMs     int64   `json:"at_ms"`
}

// TransferEvent 转账成功后向事件流投递一条事件
// 旁路异步投递，不保证事件间的提交顺序；
// 分区键用发送者ID，方便下游按玩家聚合
func (n *Notifier) TransferEvent(from, to uuid.UUID, amount, tax, received float64) {
	if n.producer == nil {
		return
	}
	topic := n.cfg.Get().Kafka.Topic.TransferEvents
	if topic == "" {
		return
	}

	payload, err := json.Marshal(transferEvent{
		EventNo:  idgen.GenerateEventNo(),
		From:     from.String(),
		To:       to.String(),
		Amount:   amount,
		Tax:      tax,
		Received: received,
		AtMs:     time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	go func() {
		if err := n.producer.Send(topic, from.String(), payload); err != nil {
			n.log.WithError(err).Warn("[Notifier] 转账事件发送失败")
		}
	}()
}
