package emergency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/savegress/vitalguard/internal/config"
	"github.com/savegress/vitalguard/pkg/models"
)

// Event is the payload delivered to external notification channels
type Event struct {
	Type     string                    `json:"type"`
	Response *models.EmergencyResponse `json:"response"`
	SentAt   time.Time                 `json:"sentAt"`
}

func newEvent(resp *models.EmergencyResponse) Event {
	return Event{
		Type:     "emergency.triggered",
		Response: resp,
		SentAt:   time.Now(),
	}
}

// ConsoleNotifier writes emergencies to the service log
type ConsoleNotifier struct {
	logger *zap.Logger
}

// NewConsoleNotifier creates a new console notifier
func NewConsoleNotifier(logger *zap.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{logger: logger}
}

// Name returns the notifier name
func (n *ConsoleNotifier) Name() string {
	return "console"
}

// Notify logs the emergency
func (n *ConsoleNotifier) Notify(_ context.Context, resp *models.EmergencyResponse) error {
	fields := []zap.Field{
		zap.String("response_id", resp.ID),
		zap.String("user_id", resp.UserID),
		zap.String("severity", string(resp.Severity)),
		zap.Any("actions", resp.ActionTypes()),
	}
	if resp.Severity == models.SeverityCritical {
		n.logger.Error("EMERGENCY", fields...)
	} else {
		n.logger.Warn("EMERGENCY", fields...)
	}
	return nil
}

// WebhookNotifier posts emergencies to a webhook
type WebhookNotifier struct {
	url    string
	client *resty.Client
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers)

	return &WebhookNotifier{
		url:    cfg.URL,
		client: client,
	}
}

// Name returns the notifier name
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Notify sends the emergency to the webhook
func (n *WebhookNotifier) Notify(ctx context.Context, resp *models.EmergencyResponse) error {
	if n.url == "" {
		return nil
	}

	r, err := n.client.R().
		SetContext(ctx).
		SetBody(newEvent(resp)).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	if r.IsError() {
		return fmt.Errorf("webhook returned status %d", r.StatusCode())
	}
	return nil
}

// Publisher is the subset of an MQTT client used for publishing
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier publishes emergencies to a per-user MQTT topic
type MQTTNotifier struct {
	client      Publisher
	topicPrefix string
	qos         byte
	timeout     time.Duration
}

// NewMQTTClient connects to the configured broker
func NewMQTTClient(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// NewMQTTNotifier creates a new MQTT notifier
func NewMQTTNotifier(client Publisher, cfg config.MQTTConfig) *MQTTNotifier {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "vitalguard/emergency"
	}
	return &MQTTNotifier{
		client:      client,
		topicPrefix: prefix,
		qos:         cfg.QoS,
		timeout:     5 * time.Second,
	}
}

// Name returns the notifier name
func (n *MQTTNotifier) Name() string {
	return "mqtt"
}

// Topic returns the topic a user's emergencies are published to
func (n *MQTTNotifier) Topic(userID string) string {
	return n.topicPrefix + "/" + userID
}

// Notify publishes the emergency
func (n *MQTTNotifier) Notify(_ context.Context, resp *models.EmergencyResponse) error {
	payload, err := json.Marshal(newEvent(resp))
	if err != nil {
		return err
	}

	topic := n.Topic(resp.UserID)
	token := n.client.Publish(topic, n.qos, false, payload)
	if !token.WaitTimeout(n.timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// StreamWriter is the subset of a Redis client used for stream appends
type StreamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// NewRedisClient creates a Redis client from config
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisNotifier appends emergencies to a Redis stream
type RedisNotifier struct {
	client StreamWriter
	stream string
	maxLen int64
}

// NewRedisNotifier creates a new Redis stream notifier
func NewRedisNotifier(client StreamWriter, cfg config.RedisConfig) *RedisNotifier {
	stream := cfg.Stream
	if stream == "" {
		stream = "vitalguard:emergencies"
	}
	return &RedisNotifier{
		client: client,
		stream: stream,
		maxLen: cfg.MaxLen,
	}
}

// Name returns the notifier name
func (n *RedisNotifier) Name() string {
	return "redis"
}

// Notify appends the emergency to the stream
func (n *RedisNotifier) Notify(ctx context.Context, resp *models.EmergencyResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]interface{}{
			"response_id": resp.ID,
			"user_id":     resp.UserID,
			"severity":    string(resp.Severity),
			"data":        string(data),
			"timestamp":   resp.TriggerTime.Unix(),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}

	if err := n.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", n.stream, err)
	}
	return nil
}
