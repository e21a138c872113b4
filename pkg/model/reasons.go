package model

const (
	StaticReason         = "STATIC"
	TargetingMatchReason = "TARGETING_MATCH"
	DisabledReason       = "DISABLED"
	ErrorReason          = "ERROR"
)
