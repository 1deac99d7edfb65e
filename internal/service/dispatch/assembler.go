package dispatch

import (
	"github.com/jwalitptl/notification-dispatcher/internal/model"
)

type Defaults struct {
	// SenderID is used for SMS when neither the caller nor the message sets one
	SenderID string
	// FromAddress is used for EMAIL in the same way
	FromAddress string
}

type Assembler struct {
	defaults Defaults
}

func NewAssembler(defaults Defaults) *Assembler {
	return &Assembler{defaults: defaults}
}

// BuildBatch turns resolved endpoints into one batch send request. Addresses
// are deduplicated in order; those without an endpoint are listed in Excluded.
func (a *Assembler) BuildBatch(channel model.ChannelType, message model.RenderedMessage, senderID string, endpoints map[string]string, addresses []string) *model.DispatchRequest {
	req := &model.DispatchRequest{
		Channel:  channel,
		Message:  message,
		SenderID: a.sender(channel, message, senderID),
	}

	seen := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}
		req.Requested++

		id, ok := endpoints[address]
		if !ok || id == "" {
			req.Excluded = append(req.Excluded, address)
			continue
		}
		req.Endpoints = append(req.Endpoints, model.EndpointRef{EndpointID: id, Address: address})
	}
	return req
}

func (a *Assembler) sender(channel model.ChannelType, message model.RenderedMessage, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if message.SenderID != "" {
		return message.SenderID
	}
	switch channel {
	case model.ChannelSMS:
		return a.defaults.SenderID
	case model.ChannelEmail:
		return a.defaults.FromAddress
	}
	return ""
}
