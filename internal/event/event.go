package event

type Type string

const (
	TypeTaskCreated  Type = "task.created"
	TypeTaskUpdated  Type = "task.updated"
	TypeTaskProgress Type = "task.progress"
	TypeTaskRemoved  Type = "task.removed"
)

// Event is one task change as streamed to websocket clients. Owner scopes
// delivery and is never empty for task events.
type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	TaskID    string `json:"task_id"`
	Owner     string `json:"owner,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (events <-chan Event, unsubscribe func())
}
