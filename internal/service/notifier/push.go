package notifier

import (
	"fmt"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
)

// PushNotifier sends to device tokens on GCM or APNS. Tokens are not filtered.
type PushNotifier struct {
	pipeline
}

func NewPushNotifier(channel model.ChannelType, deps Deps) (*PushNotifier, error) {
	if channel != model.ChannelGCM && channel != model.ChannelAPNS {
		return nil, fmt.Errorf("%s is not a push channel", channel)
	}
	n := &PushNotifier{}
	n.channel = channel
	n.deps = deps.withDefaults()
	return n, nil
}
