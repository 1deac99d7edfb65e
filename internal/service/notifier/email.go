package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
)

type EmailNotifier struct {
	pipeline
}

// NewEmailNotifier drops addresses with a bounce on record before resolving
// endpoints.
func NewEmailNotifier(deps Deps) *EmailNotifier {
	n := &EmailNotifier{}
	n.channel = model.ChannelEmail
	n.deps = deps.withDefaults()
	n.filter = func(ctx context.Context, key string, addresses []string) []string {
		return deps.Validator.FilterBounced(ctx, key, addresses)
	}
	return n
}

func (n *EmailNotifier) SetupChannel(ctx context.Context) error {
	if n.deps.Validator == nil {
		return fmt.Errorf("setup %s channel: %w", n.channel, errors.New("address validator is required"))
	}
	return n.pipeline.SetupChannel(ctx)
}
