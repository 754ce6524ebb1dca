package alertstream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/reachforge/outreach/store"
)

// EventAlertCreated is the event name under which alerts are appended to
// reporter streams.
const EventAlertCreated = "alert_created"

type (
	// PublisherOptions configures a Publisher.
	PublisherOptions struct {
		// Client is the stream client used to publish. Required.
		Client Client
		// StreamID derives the destination stream from an alert. Defaults to
		// StreamFor on the alert's reporter user id.
		StreamID func(store.Alert) (string, error)
		// MarshalEnvelope overrides envelope serialization, primarily for
		// tests.
		MarshalEnvelope func(envelope) ([]byte, error)
		// OnPublished runs after each successful publish.
		OnPublished func(ctx context.Context, ev PublishedAlert) error
	}

	// Publisher appends stored alerts to per-reporter Pulse streams. Safe for
	// concurrent Publish calls.
	Publisher struct {
		client Client
		opts   publisherOptions
	}

	// publisherOptions holds internal configuration derived from
	// PublisherOptions.
	publisherOptions struct {
		streamID        func(store.Alert) (string, error)
		marshalEnvelope func(envelope) ([]byte, error)
		onPublished     func(ctx context.Context, ev PublishedAlert) error
	}

	// envelope wraps one alert for transmission over a reporter stream.
	envelope struct {
		// Type identifies the event kind.
		Type string `json:"type"`
		// ReporterUserID is the dashboard owner the alert belongs to.
		ReporterUserID string `json:"reporter_user_id"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload carries the alert content.
		Payload AlertEvent `json:"payload"`
	}

	// AlertEvent mirrors the stored alert row without its acknowledgement
	// state.
	AlertEvent struct {
		AlertID       string  `json:"alert_id,omitempty"`
		LeadID        string  `json:"lead_id"`
		Title         string  `json:"title"`
		Description   string  `json:"description"`
		Priority      string  `json:"priority"`
		PreviousValue *string `json:"previous_value,omitempty"`
		UpdatedValue  *string `json:"updated_value,omitempty"`
	}

	// PublishedAlert describes one successfully appended alert.
	PublishedAlert struct {
		Alert    store.Alert
		StreamID string
		EntryID  string
	}
)

// NewPublisher constructs an alert publisher. The Client field in opts is
// required; StreamID and MarshalEnvelope default to the built-in
// implementations.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("alertstream: client is required")
	}
	cfg := publisherOptions{
		streamID:        defaultStreamID,
		marshalEnvelope: defaultMarshal,
		onPublished:     opts.OnPublished,
	}
	if opts.StreamID != nil {
		cfg.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		cfg.marshalEnvelope = opts.MarshalEnvelope
	}
	return &Publisher{client: opts.Client, opts: cfg}, nil
}

// Publish appends the alert to its reporter's stream. It derives the stream
// name, wraps the alert in an envelope, marshals it to JSON and hands it to
// the stream client. The alert row itself is persisted elsewhere; this is the
// live-feed copy.
func (p *Publisher) Publish(ctx context.Context, alert store.Alert) error {
	streamID, err := p.opts.streamID(alert)
	if err != nil {
		return err
	}
	handle, err := p.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := envelope{
		Type:           EventAlertCreated,
		ReporterUserID: alert.ReporterUserID,
		Timestamp:      time.Now().UTC(),
		Payload:        alertEvent(alert),
	}
	payload, err := p.opts.marshalEnvelope(env)
	if err != nil {
		return err
	}
	entryID, err := handle.Add(ctx, env.Type, payload)
	if err != nil {
		return err
	}
	if p.opts.onPublished != nil {
		return p.opts.onPublished(ctx, PublishedAlert{Alert: alert, StreamID: streamID, EntryID: entryID})
	}
	return nil
}

// Close releases resources owned by the underlying stream client.
func (p *Publisher) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}

// defaultStreamID routes an alert to its reporter's stream.
func defaultStreamID(alert store.Alert) (string, error) {
	if alert.ReporterUserID == "" {
		return "", errors.New("alertstream: alert missing reporter user id")
	}
	return StreamFor(alert.ReporterUserID), nil
}

// defaultMarshal serializes an envelope to JSON.
func defaultMarshal(env envelope) ([]byte, error) {
	return json.Marshal(env)
}

// alertEvent projects the stored row onto the wire payload.
func alertEvent(alert store.Alert) AlertEvent {
	return AlertEvent{
		AlertID:       alert.ID,
		LeadID:        alert.LeadID,
		Title:         alert.Title,
		Description:   alert.Description,
		Priority:      string(alert.Priority),
		PreviousValue: alert.PreviousValue,
		UpdatedValue:  alert.UpdatedValue,
	}
}
