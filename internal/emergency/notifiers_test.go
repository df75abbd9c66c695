package emergency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/savegress/vitalguard/internal/config"
	"github.com/savegress/vitalguard/pkg/models"
)

func testResponse(tier models.SeverityTier) *models.EmergencyResponse {
	return &models.EmergencyResponse{
		ID:              "resp-1",
		UserID:          "u1",
		TriggerTime:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		VitalsData:      heartRate(35),
		Severity:        tier,
		ResponseActions: GenerateActions(tier),
		Status:          models.ResponseStatusTriggered,
	}
}

func TestConsoleNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewConsoleNotifier(zap.New(core))
	assert.Equal(t, "console", n.Name())

	require.NoError(t, n.Notify(context.Background(), testResponse(models.SeverityCritical)))
	require.NoError(t, n.Notify(context.Background(), testResponse(models.SeverityWarning)))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "resp-1", entries[0].ContextMap()["response_id"])
}

func TestWebhookNotifier_EmptyURL(t *testing.T) {
	n := NewWebhookNotifier(config.WebhookConfig{})
	assert.Equal(t, "webhook", n.Name())
	assert.NoError(t, n.Notify(context.Background(), testResponse(models.SeverityUrgent)))
}

func TestWebhookNotifier_Success(t *testing.T) {
	var received Event
	var token string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Token")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(config.WebhookConfig{
		URL:     server.URL,
		Headers: map[string]string{"X-Token": "secret"},
	})
	require.NoError(t, n.Notify(context.Background(), testResponse(models.SeverityCritical)))

	assert.Equal(t, "secret", token)
	assert.Equal(t, "emergency.triggered", received.Type)
	require.NotNil(t, received.Response)
	assert.Equal(t, "resp-1", received.Response.ID)
	assert.Equal(t, models.SeverityCritical, received.Response.Severity)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewWebhookNotifier(config.WebhookConfig{URL: server.URL})
	err := n.Notify(context.Background(), testResponse(models.SeverityCritical))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.topic = topic
	p.qos = qos
	p.payload, _ = payload.([]byte)
	return newFakeToken(p.err)
}

func TestMQTTNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, config.MQTTConfig{QoS: 1})
	assert.Equal(t, "mqtt", n.Name())

	require.NoError(t, n.Notify(context.Background(), testResponse(models.SeverityUrgent)))
	assert.Equal(t, "vitalguard/emergency/u1", pub.topic)
	assert.Equal(t, byte(1), pub.qos)

	var event Event
	require.NoError(t, json.Unmarshal(pub.payload, &event))
	assert.Equal(t, "resp-1", event.Response.ID)
	assert.Equal(t, models.SeverityUrgent, event.Response.Severity)
}

func TestMQTTNotifier_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	n := NewMQTTNotifier(pub, config.MQTTConfig{TopicPrefix: "care/alerts"})
	assert.Equal(t, "care/alerts/u9", n.Topic("u9"))

	err := n.Notify(context.Background(), testResponse(models.SeverityUrgent))
	assert.ErrorContains(t, err, "not connected")
}

type fakeStream struct {
	args *redis.XAddArgs
	err  error
}

func (s *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.args = a
	return redis.NewStringResult("1-0", s.err)
}

func TestRedisNotifier(t *testing.T) {
	stream := &fakeStream{}
	n := NewRedisNotifier(stream, config.RedisConfig{MaxLen: 100})
	assert.Equal(t, "redis", n.Name())

	require.NoError(t, n.Notify(context.Background(), testResponse(models.SeverityCritical)))
	require.NotNil(t, stream.args)
	assert.Equal(t, "vitalguard:emergencies", stream.args.Stream)
	assert.Equal(t, int64(100), stream.args.MaxLen)
	assert.True(t, stream.args.Approx)

	values, ok := stream.args.Values.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "resp-1", values["response_id"])
	assert.Equal(t, "critical", values["severity"])

	var stored models.EmergencyResponse
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &stored))
	assert.Equal(t, "u1", stored.UserID)
}

func TestRedisNotifier_Error(t *testing.T) {
	n := NewRedisNotifier(&fakeStream{err: errors.New("connection refused")}, config.RedisConfig{Stream: "s"})
	err := n.Notify(context.Background(), testResponse(models.SeverityCritical))
	assert.ErrorContains(t, err, "xadd s")
}
