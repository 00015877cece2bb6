package platform

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
	"github.com/chris-alexander-pop/system-design-library/pkg/resilience"
)

// InstrumentedAdapter wraps an Adapter with an OTel span plus structured log
// per call (pkg/communication/chat.InstrumentedSender's decorator style),
// and a named CircuitBreaker per outbound operation kind (15s call timeout;
// opens once an error rate >= 50% is sustained over at least 10 calls within
// a 60s rolling window, then fails fast for 60s before letting half-open
// probes through).
type InstrumentedAdapter struct {
	next   Adapter
	name   string // e.g. "discord", "slack" — used to namespace breaker names
	tracer trace.Tracer

	breakers map[string]*resilience.CircuitBreaker
}

// NewInstrumentedAdapter wraps next. name identifies the platform for
// breaker naming and span attributes ("discord", "slack").
func NewInstrumentedAdapter(name string, next Adapter) *InstrumentedAdapter {
	ops := []string{"connect", "create-webhook", "fetch-webhook", "send-webhook",
		"edit-webhook", "delete-webhook", "send-message", "edit-message", "delete-message"}
	breakers := make(map[string]*resilience.CircuitBreaker, len(ops))
	for _, op := range ops {
		breakers[op] = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:               name + ":" + op,
			FailureThreshold:   10,
			SuccessThreshold:   2,
			Timeout:            60 * time.Second,
			Window:             60 * time.Second,
			ErrorRateThreshold: 0.5,
		})
	}
	return &InstrumentedAdapter{
		next:     next,
		name:     name,
		tracer:   otel.Tracer("internal/bridge/platform"),
		breakers: breakers,
	}
}

func (a *InstrumentedAdapter) call(ctx context.Context, op string, attrs []attribute.KeyValue, fn resilience.Executor) error {
	ctx, span := a.tracer.Start(ctx, a.name+"."+op, trace.WithAttributes(attrs...))
	defer span.End()

	err := a.breakers[op].Execute(ctx, resilience.WithTimeout(15*time.Second, fn))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "platform call failed", "platform", a.name, "op", op, "error", err)
	}
	return err
}

func (a *InstrumentedAdapter) Connect(ctx context.Context, token string) error {
	return a.call(ctx, "connect", nil, func(ctx context.Context) error {
		return a.next.Connect(ctx, token)
	})
}

func (a *InstrumentedAdapter) Disconnect() error {
	return a.next.Disconnect()
}

func (a *InstrumentedAdapter) OnEvent(handler EventHandler) {
	a.next.OnEvent(handler)
}

func (a *InstrumentedAdapter) CreateWebhook(ctx context.Context, channelID, name string) (*Webhook, error) {
	var wh *Webhook
	err := a.call(ctx, "create-webhook", []attribute.KeyValue{attribute.String("channel_id", channelID)},
		func(ctx context.Context) error {
			var err error
			wh, err = a.next.CreateWebhook(ctx, channelID, name)
			return err
		})
	return wh, err
}

func (a *InstrumentedAdapter) FetchWebhook(ctx context.Context, channelID string) (*Webhook, error) {
	var wh *Webhook
	err := a.call(ctx, "fetch-webhook", []attribute.KeyValue{attribute.String("channel_id", channelID)},
		func(ctx context.Context) error {
			var err error
			wh, err = a.next.FetchWebhook(ctx, channelID)
			return err
		})
	return wh, err
}

func (a *InstrumentedAdapter) SendWebhook(ctx context.Context, webhookID, token, channelID, content, username, avatarURL string) (string, error) {
	var id string
	err := a.call(ctx, "send-webhook", []attribute.KeyValue{attribute.String("channel_id", channelID)},
		func(ctx context.Context) error {
			var err error
			id, err = a.next.SendWebhook(ctx, webhookID, token, channelID, content, username, avatarURL)
			return err
		})
	return id, err
}

func (a *InstrumentedAdapter) EditWebhookMessage(ctx context.Context, webhookID, token, messageID, content string) (bool, error) {
	var ok bool
	err := a.call(ctx, "edit-webhook", []attribute.KeyValue{attribute.String("message_id", messageID)},
		func(ctx context.Context) error {
			var err error
			ok, err = a.next.EditWebhookMessage(ctx, webhookID, token, messageID, content)
			return err
		})
	return ok, err
}

func (a *InstrumentedAdapter) DeleteWebhookMessage(ctx context.Context, webhookID, token, messageID string) (bool, error) {
	var ok bool
	err := a.call(ctx, "delete-webhook", []attribute.KeyValue{attribute.String("message_id", messageID)},
		func(ctx context.Context) error {
			var err error
			ok, err = a.next.DeleteWebhookMessage(ctx, webhookID, token, messageID)
			return err
		})
	return ok, err
}

func (a *InstrumentedAdapter) SendMessage(ctx context.Context, channelID, content string, impersonate *Impersonate) (string, error) {
	var id string
	err := a.call(ctx, "send-message", []attribute.KeyValue{attribute.String("channel_id", channelID)},
		func(ctx context.Context) error {
			var err error
			id, err = a.next.SendMessage(ctx, channelID, content, impersonate)
			return err
		})
	return id, err
}

func (a *InstrumentedAdapter) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	return a.call(ctx, "edit-message", []attribute.KeyValue{attribute.String("message_id", messageID)},
		func(ctx context.Context) error {
			return a.next.EditMessage(ctx, channelID, messageID, content)
		})
}

func (a *InstrumentedAdapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return a.call(ctx, "delete-message", []attribute.KeyValue{attribute.String("message_id", messageID)},
		func(ctx context.Context) error {
			return a.next.DeleteMessage(ctx, channelID, messageID)
		})
}
