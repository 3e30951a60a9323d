package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is something that happened to a project: a history transition, a
// script result, a save, a policy finding.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	CommandID string                 `json:"command_id,omitempty"`
	Command   string                 `json:"command,omitempty"`
	NodeID    string                 `json:"node_id,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeHistoryCommitted = "history.committed"
	EventTypeHistoryUndone    = "history.undone"
	EventTypeHistoryRedone    = "history.redone"
	EventTypeHistoryJumped    = "history.jumped"
	EventTypeScriptCompleted  = "script.completed"
	EventTypeScriptFailed     = "script.failed"
	EventTypeProjectSaved     = "project.saved"
	EventTypeProjectLoaded    = "project.loaded"
	EventTypePolicyViolation  = "policy.violation"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In the default synchronous
// mode Publish returns after every subscriber ran; with EnableAsync events
// are buffered and delivered in batches from a background goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.EnableAsync && cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishCommitted publishes a history commit.
func (ep *EventPublisher) PublishCommitted(commandID, command string, past int) error {
	return ep.Publish(Event{
		Type:      EventTypeHistoryCommitted,
		Source:    "history",
		CommandID: commandID,
		Command:   command,
		Message:   fmt.Sprintf("Committed %s", command),
		Data:      map[string]interface{}{"past": past},
	})
}

// PublishUndone publishes an undo.
func (ep *EventPublisher) PublishUndone(commandID, command string) error {
	return ep.Publish(Event{
		Type:      EventTypeHistoryUndone,
		Source:    "history",
		CommandID: commandID,
		Command:   command,
		Message:   fmt.Sprintf("Undid %s", command),
	})
}

// PublishRedone publishes a redo.
func (ep *EventPublisher) PublishRedone(commandID, command string) error {
	return ep.Publish(Event{
		Type:      EventTypeHistoryRedone,
		Source:    "history",
		CommandID: commandID,
		Command:   command,
		Message:   fmt.Sprintf("Redid %s", command),
	})
}

// PublishJumped publishes a jump to a history entry.
func (ep *EventPublisher) PublishJumped(commandID string, steps int) error {
	return ep.Publish(Event{
		Type:      EventTypeHistoryJumped,
		Source:    "history",
		CommandID: commandID,
		Message:   fmt.Sprintf("Jumped %d steps to %s", steps, commandID),
		Data:      map[string]interface{}{"steps": steps},
	})
}

// PublishScriptCompleted publishes a successful script run.
func (ep *EventPublisher) PublishScriptCompleted(scriptID string, commands int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeScriptCompleted,
		Source:  "script",
		Message: fmt.Sprintf("Script %s committed %d commands", scriptID, commands),
		Data: map[string]interface{}{
			"script_id": scriptID,
			"commands":  commands,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishScriptFailed publishes a script that was rolled back.
func (ep *EventPublisher) PublishScriptFailed(scriptID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeScriptFailed,
		Source:  "script",
		Message: fmt.Sprintf("Script %s failed: %s", scriptID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"script_id": scriptID,
			"reason":    reason,
		},
	})
}

// PublishProjectSaved publishes a save to path.
func (ep *EventPublisher) PublishProjectSaved(path string, nodes int) error {
	return ep.Publish(Event{
		Type:    EventTypeProjectSaved,
		Source:  "store",
		Message: fmt.Sprintf("Saved %d nodes to %s", nodes, path),
		Data:    map[string]interface{}{"path": path, "nodes": nodes},
	})
}

// PublishPolicyViolation publishes a lint finding.
func (ep *EventPublisher) PublishPolicyViolation(nodeID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		NodeID:  nodeID,
		Message: fmt.Sprintf("Policy violation on %s: %s - %s", nodeID, policyName, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Drain whatever is already queued before delivering.
			for len(batch) < ep.config.MaxBatchSize && len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			flush()

		case <-ep.ctx.Done():
			for len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			flush()
			return
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	subs := make([]subscriberEntry, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.RUnlock()

	for _, entry := range subs {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher, delivering anything still buffered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel only allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}
