package livefeed

// Message is one feed frame, serialized as JSON.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Feed message types.
const (
	TypeJobUpdate    = "job_update"
	TypeQueueStats   = "queue_stats"
	TypeAccountState = "account_state"
	TypeReport       = "report"
)

// NewMessage builds a feed frame.
func NewMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Data: data}
}
