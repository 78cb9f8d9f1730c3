package pubsub

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// NewCloudEvent creates a standardized CloudEvent v1.0
func NewCloudEvent(source, eventType string, data interface{}) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetSpecVersion("1.0")
	e.SetID(uuid.NewString())
	e.SetType(eventType)
	e.SetSource(source)
	e.SetTime(time.Now().UTC())

	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, err
	}

	return e, nil
}

// PubSubMessage is the payload the Functions Framework delivers for a Pub/Sub trigger.
type PubSubMessage struct {
	Message struct {
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime time.Time         `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Unwrap extracts the CloudEvent a PubSubAdapter published from the Pub/Sub
// trigger event that carried it.
func Unwrap(trigger event.Event) (event.Event, error) {
	var msg PubSubMessage
	if err := trigger.DataAs(&msg); err != nil {
		return event.Event{}, fmt.Errorf("decode pubsub message: %w", err)
	}

	inner := event.New()
	if err := json.Unmarshal(msg.Message.Data, &inner); err != nil {
		return event.Event{}, fmt.Errorf("decode cloudevent: %w", err)
	}
	if err := inner.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("invalid cloudevent: %w", err)
	}
	return inner, nil
}
