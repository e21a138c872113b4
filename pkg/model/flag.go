package model

import "encoding/json"

const (
	FlagEnabled  = "ENABLED"
	FlagDisabled = "DISABLED"
)

type Flag struct {
	State          string                 `json:"state"`
	DefaultVariant string                 `json:"defaultVariant"`
	Variants       map[string]interface{} `json:"variants"`
	Targeting      json.RawMessage        `json:"targeting,omitempty"`
	Metadata       Metadata               `json:"metadata,omitempty"`
	Source         string                 `json:"-"`
	Key            string                 `json:"-"`
}

// Flags is the document served by flag sources.
type Flags struct {
	Flags map[string]Flag `json:"flags"`
}

type Metadata = map[string]interface{}

type NotificationType string

const (
	NotificationCreate NotificationType = "write"
	NotificationDelete NotificationType = "delete"
	NotificationUpdate NotificationType = "update"
)
