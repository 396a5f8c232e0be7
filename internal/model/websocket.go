package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type       string     `json:"type"`
	TaskID     string     `json:"taskId"`
	Status     TaskStatus `json:"status"`
	Progress   int        `json:"progress"`
	ETASeconds int        `json:"etaSeconds"`
}

// WSCompleteMessage represents task completion
type WSCompleteMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
}

// WSErrorMessage represents a terminal error
type WSErrorMessage struct {
	Type   string  `json:"type"`
	TaskID string  `json:"taskId"`
	Error  WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
