package mqtt

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// eventPayload is the message body. Instance identifies the publishing
// service when several share a broker.
type eventPayload struct {
	*pipeline.Event
	Instance string `json:"instance"`
}

// Publisher sends pipeline events to the configured topic.
type Publisher struct {
	client   Client
	topic    string
	instance string
	logger   logger.Logger
}

// NewPublisher creates a publisher over client.
func NewPublisher(client Client, topic, instance string, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Global().Module(componentName)
	}
	return &Publisher{client: client, topic: topic, instance: instance, logger: log}
}

// PublishIngestion implements pipeline.Publisher. A disconnected client
// gets one connection attempt before the event is dropped.
func (p *Publisher) PublishIngestion(ctx context.Context, event *pipeline.Event) error {
	payload, err := json.Marshal(eventPayload{Event: event, Instance: p.instance})
	if err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			p.logger.Debug("event dropped, broker unavailable",
				logger.String("run_id", event.RunID),
				logger.Error(err))
			return err
		}
	}
	return p.client.Publish(ctx, p.topic, payload)
}
