package alertstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type (
	// Notification is one decoded alert event read from a reporter stream.
	// The JSON tags are the wire shape relayed to dashboard clients.
	Notification struct {
		Type           string     `json:"type"`
		ReporterUserID string     `json:"reporter_user_id"`
		Timestamp      time.Time  `json:"timestamp"`
		Alert          AlertEvent `json:"alert"`
	}

	// Decoder converts raw stream payloads into notifications.
	Decoder func([]byte) (Notification, error)

	// SubscriberOptions configures a Subscriber.
	SubscriberOptions struct {
		// Client is the stream client used to consume events. Required.
		Client Client
		// SinkName identifies the consumer group. Defaults to "dashboard".
		SinkName string
		// Buffer is the notification channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes event payloads. Defaults to the JSON envelope
		// decoder matching the publisher.
		Decoder Decoder
	}

	// Subscriber consumes reporter streams and emits alert notifications. It
	// wraps a Pulse sink (consumer group) and decodes incoming payloads.
	Subscriber struct {
		client Client
		name   string
		buffer int
		decode Decoder
	}
)

// NewSubscriber constructs a stream subscriber. The Client field in opts is
// required; SinkName, Buffer and Decoder default as documented on
// SubscriberOptions.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("alertstream: client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "dashboard"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decode := opts.Decoder
	if decode == nil {
		decode = decodeEnvelope
	}
	return &Subscriber{
		client: opts.Client,
		name:   name,
		buffer: buffer,
		decode: decode,
	}, nil
}

// Subscribe opens a sink on the reporter's alert stream and returns channels
// for notifications and errors. A goroutine consumes from the sink, decodes
// payloads and acks each event after emission. The returned cancel function
// stops consumption, closes the sink and closes both channels.
//
// Usage:
//
//	alerts, errs, cancel, err := sub.Subscribe(ctx, "user-9")
//	defer cancel()
//	for n := range alerts {
//	    // relay notification
//	}
func (s *Subscriber) Subscribe(ctx context.Context, reporterUserID string) (<-chan Notification, <-chan error, context.CancelFunc, error) {
	if reporterUserID == "" {
		return nil, nil, nil, errors.New("alertstream: reporter user id is required")
	}
	str, err := s.client.Stream(StreamFor(reporterUserID))
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name)
	if err != nil {
		return nil, nil, nil, err
	}
	out := make(chan Notification, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, out, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return out, errs, cancelFunc, nil
}

// consume reads raw events from the sink, decodes them and emits
// notifications. Each event is acked after successful emission. Both channels
// close when ctx is canceled or the sink channel closes. Decode and ack
// failures land on the errs channel, then consumption stops.
func (s *Subscriber) consume(ctx context.Context, sink Sink, out chan<- Notification, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			n, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("alertstream: decode payload: %w", err)
				return
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("alertstream: ack: %w", err)
				return
			}
		}
	}
}

// decodeEnvelope deserializes the JSON envelope written by the publisher.
func decodeEnvelope(payload []byte) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Notification{}, err
	}
	return Notification{
		Type:           env.Type,
		ReporterUserID: env.ReporterUserID,
		Timestamp:      env.Timestamp,
		Alert:          env.Payload,
	}, nil
}
