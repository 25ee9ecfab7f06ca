package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/robustfit/robust"
)

// Event kinds, also the last topic segment.
const (
	EventStart    = "start"
	EventProgress = "progress"
	EventEnd      = "end"
	EventResult   = "result"
)

// Event is the JSON payload published for a run.
type Event struct {
	RunID     string         `json:"runId"`
	Kind      string         `json:"kind"`
	Status    *robust.Status `json:"status,omitempty"`
	Result    *Result        `json:"result,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Publisher publishes run events to <prefix>/<runID>/<kind>. It implements
// Observer, so it can be handed to Estimate directly.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	last          map[string]*Event
	mu            sync.RWMutex
}

// NewPublisher creates a run event publisher. An empty prefix selects
// DefaultPublishPrefix. If client is nil, publishing fails with an error
// (events are still recorded).
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true, // results and end events stay available to late subscribers
		last:          make(map[string]*Event),
	}
}

// Topic returns the topic of an event kind for a run.
func (p *Publisher) Topic(runID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", p.publishPrefix, runID, kind)
}

func (p *Publisher) RunStarted(runID string, st robust.Status) {
	p.observe(runID, EventStart, st)
}

func (p *Publisher) RunProgressed(runID string, st robust.Status) {
	p.observe(runID, EventProgress, st)
}

func (p *Publisher) RunFinished(runID string, st robust.Status) {
	p.observe(runID, EventEnd, st)
}

// observe publishes a status event. Listener callbacks cannot fail, so
// publishing errors are logged.
func (p *Publisher) observe(runID, kind string, st robust.Status) {
	ev := &Event{RunID: runID, Kind: kind, Status: &st, Timestamp: time.Now().Unix()}
	if err := p.publish(ev, kind != EventProgress && p.retain); err != nil {
		Logf("[MQTT] Error publishing %s event for run %s: %v", kind, runID, err)
	}
}

// PublishResult publishes the final result of a run.
func (p *Publisher) PublishResult(res *Result) error {
	ev := &Event{RunID: res.ID, Kind: EventResult, Result: res, Timestamp: time.Now().Unix()}
	return p.publish(ev, p.retain)
}

func (p *Publisher) publish(ev *Event, retain bool) error {
	p.mu.Lock()
	p.last[ev.RunID] = ev
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", ev.Kind, err)
	}

	topic := p.Topic(ev.RunID, ev.Kind)
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastEvent returns the most recent event of a run.
func (p *Publisher) LastEvent(runID string) (*Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ev, ok := p.last[runID]
	if !ok {
		return nil, false
	}
	evCopy := *ev
	return &evCopy, true
}

// Forget drops the last event of a run.
func (p *Publisher) Forget(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.last, runID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether start, end and result events are retained by the
// broker. Progress events are never retained.
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
