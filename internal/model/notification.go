package model

import "strings"

// OwnerSelf marks a notification config that targets the user themself.
const OwnerSelf = "SELF"

// NotificationConfig is the caller supplied per-recipient channel configuration.
type NotificationConfig struct {
	Enabled   bool        `json:"enabled"`
	Channel   ChannelType `json:"channel" validate:"required,channel"`
	Addresses []string    `json:"addresses"`
	// Owner is OwnerSelf (or empty) for the user, otherwise a secondary contact id
	Owner string `json:"owner,omitempty"`
}

// DirectoryKey returns the endpoint directory key to use for this config.
func (c NotificationConfig) DirectoryKey(userID string) string {
	owner := strings.TrimSpace(c.Owner)
	if owner == "" || strings.EqualFold(owner, OwnerSelf) {
		return userID
	}
	return owner
}

// IsSecondaryContact reports whether the config targets someone other than the user.
func (c NotificationConfig) IsSecondaryContact() bool {
	owner := strings.TrimSpace(c.Owner)
	return owner != "" && !strings.EqualFold(owner, OwnerSelf)
}

// Identity carries the ids used to correlate one dispatch across logs.
type Identity struct {
	UserID         string `json:"user_id" validate:"required"`
	VehicleID      string `json:"vehicle_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}

func (i Identity) Fields() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         i.UserID,
		"vehicle_id":      i.VehicleID,
		"event_id":        i.EventID,
		"notification_id": i.NotificationID,
	}
}

// RenderedMessage is the fully rendered content handed over by the template layer.
type RenderedMessage struct {
	TemplateID string            `json:"template_id,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Title      string            `json:"title,omitempty"`
	Body       string            `json:"body" validate:"required"`
	HTMLBody   string            `json:"html_body,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	SenderID   string            `json:"sender_id,omitempty"`
}

// DispatchInput is everything a channel notifier needs for one send.
type DispatchInput struct {
	Identity Identity           `json:"identity"`
	Config   NotificationConfig `json:"config"`
	Message  RenderedMessage    `json:"message"`
}
