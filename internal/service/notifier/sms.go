package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
)

type SMSNotifier struct {
	pipeline
}

// NewSMSNotifier drops numbers the provider classifies as undeliverable
// before resolving endpoints.
func NewSMSNotifier(deps Deps) *SMSNotifier {
	n := &SMSNotifier{}
	n.channel = model.ChannelSMS
	n.deps = deps.withDefaults()
	n.filter = func(ctx context.Context, _ string, addresses []string) []string {
		return deps.Validator.ValidatePhones(ctx, addresses)
	}
	return n
}

func (n *SMSNotifier) SetupChannel(ctx context.Context) error {
	if n.deps.Validator == nil {
		return fmt.Errorf("setup %s channel: %w", n.channel, errors.New("address validator is required"))
	}
	return n.pipeline.SetupChannel(ctx)
}
