package review

// EventType names a notification pushed to the caller. Delivery is
// fire-and-forget, at-least-once.
type EventType string

const (
	EventClassificationsReady  EventType = "classifications-ready"
	EventLowRiskFindingsReady  EventType = "low-risk-findings-ready"
	EventHighRiskStatus        EventType = "high-risk-status"
	EventHighRiskFindingsReady EventType = "high-risk-findings-ready"
	EventFailed                EventType = "failed"
)

// Event is one notification to the caller.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Payload   any       `json:"payload,omitempty"`
}

// ClassificationsPayload accompanies classifications-ready.
type ClassificationsPayload struct {
	Classifications []FileClassification `json:"classifications"`
	LowRiskFiles    []string             `json:"lowRiskFiles"`
	HighRiskFiles   []string             `json:"highRiskFiles"`
}

// FindingsPayload accompanies low-risk-findings-ready and
// high-risk-findings-ready.
type FindingsPayload struct {
	Path     string    `json:"path,omitempty"`
	Findings []Finding `json:"findings"`
}

// StatusPayload accompanies high-risk-status: the per-file stage name plus
// the position of the file in the high-risk list.
type StatusPayload struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Index  int    `json:"index"`
	Total  int    `json:"total"`
}

// FailedPayload accompanies failed.
type FailedPayload struct {
	Message string `json:"message"`
}

// Publisher receives orchestrator events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(Event) {}
