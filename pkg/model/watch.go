package model

const (
	MessageInitiated   = "Initiated connection to watch flag"
	MessageFlagChanged = "Flag changed"
)

// FlagState is a snapshot of one flag value for one target.
type FlagState struct {
	FlagID           string                 `json:"flag_id"`
	FlagValue        interface{}            `json:"flag_value"`
	TargetID         string                 `json:"target_id"`
	TargetAttributes map[string]interface{} `json:"target_attributes"`
}

// FlagWatchMessage is the envelope pushed to watch clients. PreviousState is
// only set on change events.
type FlagWatchMessage struct {
	Message       string     `json:"message"`
	ConnectionID  string     `json:"connection_id"`
	State         FlagState  `json:"state"`
	PreviousState *FlagState `json:"previous_state,omitempty"`
}

// PingMessage is the keep-alive marker sent to idle watch clients.
type PingMessage struct {
	Type string `json:"type"`
}

var Ping = PingMessage{Type: "ping"}

type FlagValueResponse struct {
	FlagID    string      `json:"flag_id"`
	FlagValue interface{} `json:"flag_value"`
	TargetID  string      `json:"target_id"`
}

type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message,omitempty"`
}
