package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Netomata/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskDeploy   MessageType = "task.deploy"
	MessageTypeTaskRollback MessageType = "task.rollback"
	MessageTypeOTPRequired  MessageType = "otp.required"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TaskSubmittedPayload — payload сообщения о задаче к выполнению.
type TaskSubmittedPayload struct {
	TaskID uuid.UUID `json:"task_id"`

	// Resume — повторная подача задачи, стоящей на паузе после ввода OTP.
	Resume bool `json:"resume,omitempty"`
}

// OTPRequiredPayload — payload уведомления о необходимости OTP-кода.
type OTPRequiredPayload struct {
	TaskID     uuid.UUID   `json:"task_id"`
	Department string      `json:"department"`
	Group      string      `json:"group"`
	DeviceIDs  []uuid.UUID `json:"device_ids"`
	Stage      string      `json:"stage"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishTask публикует задачу в очередь её типа.
// Потребитель: Orchestrator.
func (p *Publisher) PublishTask(ctx context.Context, typ domain.TaskType, taskID uuid.UUID, resume bool) error {
	msgType, key := MessageTypeTaskDeploy, RoutingKeyDeploy
	if typ == domain.TaskTypeRollback {
		msgType, key = MessageTypeTaskRollback, RoutingKeyRollback
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   TaskSubmittedPayload{TaskID: taskID, Resume: resume},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, key, msg)
}

// PublishOTPRequired публикует запрос OTP-кода для группы.
// Потребитель: мост уведомлений операторов.
func (p *Publisher) PublishOTPRequired(ctx context.Context, payload OTPRequiredPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeOTPRequired,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyOTPRequired, msg)
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, exchange, routingKey, msg)
}
