package domain

// Event type names used on the event bus and the Kafka mirror.
const (
	EventTypeRequestUpdated    = "request.updated"
	EventTypeCohortInfoChanged = "cohort_info.changed"
)

// UpdateType says what changed about a request.
type UpdateType string

const (
	UpdateTypeMessageStateChanged UpdateType = "MESSAGE_STATE_CHANGED"
	UpdateTypeRequestCreated      UpdateType = "REQUEST_CREATED"
	UpdateTypeRequestCancelled    UpdateType = "REQUEST_CANCELLED"
)

// RequestUpdatedEvent is published after a request or one of its messages changed.
type RequestUpdatedEvent struct {
	RequestID  string     `json:"requestId"`
	UpdateType UpdateType `json:"updateType"`
}

// EventType implements eventbus.Event.
func (RequestUpdatedEvent) EventType() string { return EventTypeRequestUpdated }

// Key is the partition key used when the event is mirrored.
func (e RequestUpdatedEvent) Key() string { return e.RequestID }

// CohortInfoChangedEvent is published when the cohort attachment of a ticket may have changed.
type CohortInfoChangedEvent struct {
	IssueID string `json:"issueId"`
}

// EventType implements eventbus.Event.
func (CohortInfoChangedEvent) EventType() string { return EventTypeCohortInfoChanged }

// Key is the partition key used when the event is mirrored.
func (e CohortInfoChangedEvent) Key() string { return e.IssueID }
