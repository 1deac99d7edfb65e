package model

import "time"

// ChannelStatus is the overall outcome of one channel dispatch.
type ChannelStatus string

const (
	StatusSuccess            ChannelStatus = "SUCCESS"
	StatusFailure            ChannelStatus = "FAILURE"
	StatusMissingDestination ChannelStatus = "MISSING_DESTINATION"
)

// DeliveryStatus is the normalized per-address result.
type DeliveryStatus struct {
	Status        string `json:"status"`
	StatusCode    int    `json:"status_code"`
	MessageID     string `json:"message_id,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
	UpdatedToken  string `json:"updated_token,omitempty"`
}

func (s DeliveryStatus) Delivered() bool {
	return s.Status == DeliverySuccessful
}

// DispatchCounts lets the caller reconcile requested against sent addresses.
type DispatchCounts struct {
	Requested int `json:"requested"`
	Sendable  int `json:"sendable"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// ChannelResponse is returned to the caller for audit and history.
type ChannelResponse struct {
	Channel        ChannelType               `json:"channel"`
	Destination    string                    `json:"destination"`
	DeliveryStatus map[string]DeliveryStatus `json:"delivery_status"`
	Status         ChannelStatus             `json:"status"`
	Template       RenderedMessage           `json:"template"`
	Counts         DispatchCounts            `json:"counts"`
	RequestID      string                    `json:"request_id,omitempty"`
	Error          string                    `json:"error,omitempty"`
	Identity       Identity                  `json:"identity"`
	CreatedAt      time.Time                 `json:"created_at"`
}
