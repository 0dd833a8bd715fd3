package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RiskLevel categorizes the severity of audit events.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Event is a structured record of a launch lifecycle step.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`   // e.g., "launch.token.issued"
	Status    string            `json:"status"` // "success", "failure", "blocked"
	Reason    string            `json:"reason,omitempty"`
	Message   string            `json:"message,omitempty"`
	TenantID  uint64            `json:"tenant_id,omitempty"`
	UserID    *uint64           `json:"user_id,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`

	ResourceType string    `json:"resource_type,omitempty"` // "product"
	ResourceID   string    `json:"resource_id,omitempty"`
	Risk         RiskLevel `json:"risk,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

// Store persists and queries audit events.
type Store interface {
	SaveEvent(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter for querying audit events.
type Filter struct {
	TenantID  uint64
	Types     []string
	Statuses  []string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e *Event) bool {
	if f.TenantID != 0 && e.TenantID != f.TenantID {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, e.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, e.Status) {
		return false
	}
	if !f.StartTime.IsZero() && e.CreatedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.CreatedAt.After(f.EndTime) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

const (
	EventTokenIssued   = "launch.token.issued"
	EventTokenRedeemed = "launch.token.redeemed"
	EventTokenRejected = "launch.token.rejected"
	EventLaunchDenied  = "launch.denied"
	EventSubscribed    = "subscription.created"
	EventRateLimited   = "security.rate_limited"
)

// ---- Event Builder ----

// EventBuilder provides a fluent API for creating audit events.
type EventBuilder struct {
	event *Event
}

// NewEvent starts building a new audit event.
func NewEvent(eventType string) *EventBuilder {
	return &EventBuilder{
		event: &Event{
			Type:      eventType,
			CreatedAt: time.Now().UTC(),
			Risk:      RiskLow,
		},
	}
}

func (b *EventBuilder) Success() *EventBuilder {
	b.event.Status = "success"
	return b
}

func (b *EventBuilder) Failure(reason string) *EventBuilder {
	b.event.Status = "failure"
	b.event.Reason = reason
	return b
}

func (b *EventBuilder) Blocked(reason string) *EventBuilder {
	b.event.Status = "blocked"
	b.event.Reason = reason
	return b
}

func (b *EventBuilder) Message(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

func (b *EventBuilder) Tenant(tenantID uint64) *EventBuilder {
	b.event.TenantID = tenantID
	return b
}

func (b *EventBuilder) User(userID *uint64) *EventBuilder {
	b.event.UserID = userID
	return b
}

func (b *EventBuilder) Client(ip, ua string) *EventBuilder {
	b.event.IPAddress = ip
	b.event.UserAgent = ua
	return b
}

func (b *EventBuilder) Resource(resourceType, resourceID string) *EventBuilder {
	b.event.ResourceType = resourceType
	b.event.ResourceID = resourceID
	return b
}

func (b *EventBuilder) Risk(level RiskLevel) *EventBuilder {
	b.event.Risk = level
	return b
}

func (b *EventBuilder) Meta(key, value string) *EventBuilder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]string)
	}
	b.event.Metadata[key] = value
	return b
}

func (b *EventBuilder) RequestID(id string) *EventBuilder {
	b.event.RequestID = id
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() *Event {
	return b.event
}

// ---- Hooks ----

// Hooks provides extension points for audit behavior.
type Hooks struct {
	// BeforeSave is called before persisting an event.
	// Modify the event or return error to prevent saving.
	BeforeSave func(ctx context.Context, event *Event) error

	// AfterSave is called after an event is persisted.
	AfterSave func(ctx context.Context, event *Event)

	// EnrichEvent adds additional data to events.
	EnrichEvent func(ctx context.Context, event *Event) error

	// AlertOnRisk is called for high risk events.
	AlertOnRisk func(ctx context.Context, event *Event)

	// IDGenerator generates event IDs. If nil, store should generate.
	IDGenerator func() string
}

// ---- Logger ----

// Logger wraps a Store and applies hooks.
type Logger struct {
	store Store
	hooks Hooks
}

// NewLogger creates a new audit logger.
func NewLogger(store Store, hooks Hooks) *Logger {
	return &Logger{store: store, hooks: hooks}
}

// Log persists an audit event with hooks applied.
func (l *Logger) Log(ctx context.Context, event *Event) error {
	if event.ID == "" && l.hooks.IDGenerator != nil {
		event.ID = l.hooks.IDGenerator()
	}

	if l.hooks.EnrichEvent != nil {
		if err := l.hooks.EnrichEvent(ctx, event); err != nil {
			return err
		}
	}

	if l.hooks.BeforeSave != nil {
		if err := l.hooks.BeforeSave(ctx, event); err != nil {
			return err
		}
	}

	if err := l.store.SaveEvent(ctx, event); err != nil {
		return err
	}

	if l.hooks.AfterSave != nil {
		l.hooks.AfterSave(ctx, event)
	}

	if event.Risk == RiskHigh && l.hooks.AlertOnRisk != nil {
		l.hooks.AlertOnRisk(ctx, event)
	}

	return nil
}

// Query delegates to the store.
func (l *Logger) Query(ctx context.Context, filter Filter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}

// MemoryStore keeps events in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

// Query returns matching events, newest first.
func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if filter.Matches(&s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
