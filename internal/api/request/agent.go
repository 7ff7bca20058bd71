package request

type CreateAgent struct {
	Name string `json:"name" validate:"required,max=255"`
	Type string `json:"type" validate:"required,dbtype"`
}

type UpdateAgent struct {
	Name   *string `json:"name" validate:"omitempty,max=255"`
	Type   *string `json:"type" validate:"omitempty,dbtype"`
	Active *bool   `json:"active"`
}

// NotifyPresence is the heartbeat body of a polling agent.
type NotifyPresence struct {
	Token     string   `json:"token" validate:"required"`
	Databases []string `json:"databases"`
}
