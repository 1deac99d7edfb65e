package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
	"github.com/jwalitptl/notification-dispatcher/internal/service/dispatch"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
	"github.com/jwalitptl/notification-dispatcher/pkg/metrics"
	"github.com/jwalitptl/notification-dispatcher/pkg/validator"
)

// ChannelNotifier sends one notification over one provider channel.
// Dispatch never returns an error; the outcome is in the response status.
type ChannelNotifier interface {
	Channel() model.ChannelType
	SetupChannel(ctx context.Context) error
	DestroyChannel(ctx context.Context) error
	Dispatch(ctx context.Context, in *model.DispatchInput) *model.ChannelResponse
}

type AddressValidator interface {
	ValidatePhones(ctx context.Context, addresses []string) []string
	FilterBounced(ctx context.Context, userID string, emails []string) []string
}

type EndpointResolver interface {
	ResolveEndpoints(ctx context.Context, userID string, channel model.ChannelType, addresses []string) (map[string]string, error)
}

type BatchSender interface {
	SendMessages(ctx context.Context, req *model.DispatchRequest) (*model.BatchResult, error)
}

// Deps are shared by every channel notifier.
type Deps struct {
	Validator AddressValidator
	Directory EndpointResolver
	Sender    BatchSender
	Assembler *dispatch.Assembler
	Inputs    validator.Validator
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// NewInputValidator checks DispatchInput tags, including the channel type.
func NewInputValidator() validator.Validator {
	return validator.New(validator.Rule{
		Tag:     "channel",
		Message: "must be one of SMS, EMAIL, GCM, APNS",
		Check:   func(s string) bool { return model.ChannelType(s).Valid() },
	})
}

func (d Deps) check() error {
	switch {
	case d.Directory == nil:
		return errors.New("endpoint directory is required")
	case d.Sender == nil:
		return errors.New("batch sender is required")
	case d.Assembler == nil:
		return errors.New("assembler is required")
	case d.Inputs == nil:
		return errors.New("input validator is required")
	}
	return nil
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	if d.Inputs == nil {
		d.Inputs = NewInputValidator()
	}
	return d
}

// filterFunc narrows the configured addresses before endpoint resolution.
// key is the directory key the addresses are registered under.
type filterFunc func(ctx context.Context, key string, addresses []string) []string

// pipeline is the dispatch flow every channel shares; channels differ only
// in how addresses are filtered.
type pipeline struct {
	channel model.ChannelType
	deps    Deps
	filter  filterFunc
	ready   atomic.Bool
}

func (p *pipeline) Channel() model.ChannelType {
	return p.channel
}

func (p *pipeline) SetupChannel(ctx context.Context) error {
	if err := p.deps.check(); err != nil {
		return fmt.Errorf("setup %s channel: %w", p.channel, err)
	}
	p.ready.Store(true)
	p.deps.Logger.Debug("Channel ready", "channel", string(p.channel))
	return nil
}

func (p *pipeline) DestroyChannel(ctx context.Context) error {
	p.ready.Store(false)
	return nil
}

func (p *pipeline) Dispatch(ctx context.Context, in *model.DispatchInput) (resp *model.ChannelResponse) {
	resp = &model.ChannelResponse{
		Channel:        p.channel,
		DeliveryStatus: make(map[string]model.DeliveryStatus),
		CreatedAt:      time.Now().UTC(),
	}
	log := p.deps.Logger

	defer func() {
		if r := recover(); r != nil {
			resp = p.fail(resp, log, fmt.Errorf("panic during dispatch: %v", r))
		}
	}()

	if in == nil {
		return p.fail(resp, log, errors.New("dispatch input is nil"))
	}
	resp.Destination = strings.Join(in.Config.Addresses, ",")
	resp.Template = in.Message
	resp.Identity = in.Identity
	log = log.WithFields(in.Identity.Fields()).WithFields(map[string]interface{}{
		"channel": string(p.channel),
	})

	if !p.ready.Load() {
		return p.fail(resp, log, fmt.Errorf("%s channel is not set up", p.channel))
	}
	if err := p.deps.Inputs.Validate(in); err != nil {
		return p.fail(resp, log, fmt.Errorf("invalid dispatch input: %w", err))
	}
	if in.Config.Channel != p.channel {
		return p.fail(resp, log, fmt.Errorf("config channel %s routed to %s notifier", in.Config.Channel, p.channel))
	}

	if !in.Config.Enabled {
		log.Info("Channel disabled, nothing sent")
		resp.Status = model.StatusSuccess
		return resp
	}

	addresses := cleanAddresses(p.channel, in.Config.Addresses)
	resp.Counts.Requested = len(addresses)
	if len(addresses) == 0 {
		return p.missing(resp, log, "no addresses configured")
	}

	key := in.Config.DirectoryKey(in.Identity.UserID)
	if p.filter != nil {
		addresses = p.filter(ctx, key, addresses)
	}
	if len(addresses) == 0 {
		return p.missing(resp, log, "no deliverable address left after filtering")
	}

	endpoints, err := p.deps.Directory.ResolveEndpoints(ctx, key, p.channel, addresses)
	if err != nil {
		return p.fail(resp, log, fmt.Errorf("resolve endpoints: %w", err))
	}

	req := p.deps.Assembler.BuildBatch(p.channel, in.Message, "", endpoints, addresses)
	resp.Counts.Sendable = len(req.Endpoints)
	if len(req.Endpoints) == 0 {
		return p.fail(resp, log, errors.New("no endpoint could be resolved for any address"))
	}
	if len(req.Excluded) > 0 {
		log.Warn("Some addresses have no endpoint", "excluded", len(req.Excluded))
	}

	result, err := p.deps.Sender.SendMessages(ctx, req)
	if err != nil {
		p.deps.Metrics.BatchCalls.WithLabelValues(string(p.channel), "error").Inc()
		return p.fail(resp, log, fmt.Errorf("batch send: %w", err))
	}
	p.deps.Metrics.BatchCalls.WithLabelValues(string(p.channel), "ok").Inc()

	resp.RequestID = result.RequestID
	resp.DeliveryStatus = dispatch.Reduce(result)
	resp.Counts.Sent = len(req.Endpoints)
	resp.Counts.Delivered, resp.Counts.Failed = dispatch.Summarize(resp.DeliveryStatus)

	if len(resp.DeliveryStatus) > 0 && resp.Counts.Delivered == 0 {
		resp.Status = model.StatusFailure
		resp.Error = "provider rejected every endpoint"
		log.Warn("Batch delivered to no endpoint", "request_id", resp.RequestID, "failed", resp.Counts.Failed)
		return resp
	}

	resp.Status = model.StatusSuccess
	log.Info("Notification dispatched",
		"request_id", resp.RequestID,
		"sent", resp.Counts.Sent,
		"delivered", resp.Counts.Delivered,
		"failed", resp.Counts.Failed)
	return resp
}

func (p *pipeline) fail(resp *model.ChannelResponse, log *logger.Logger, err error) *model.ChannelResponse {
	log.Error(err, "Notification dispatch failed")
	resp.Status = model.StatusFailure
	resp.Error = err.Error()
	return resp
}

func (p *pipeline) missing(resp *model.ChannelResponse, log *logger.Logger, reason string) *model.ChannelResponse {
	log.Warn("Missing destination", "reason", reason)
	resp.Status = model.StatusMissingDestination
	return resp
}

// cleanAddresses trims and dedupes addresses. Email addresses are compared
// and sent lower-cased so one mailbox maps to one endpoint.
func cleanAddresses(channel model.ChannelType, addresses []string) []string {
	out := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		if channel == model.ChannelEmail {
			address = strings.ToLower(address)
		}
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		out = append(out, address)
	}
	return out
}

// Registry holds one notifier per channel.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[model.ChannelType]ChannelNotifier
}

func NewRegistry(notifiers ...ChannelNotifier) *Registry {
	r := &Registry{notifiers: make(map[model.ChannelType]ChannelNotifier)}
	for _, n := range notifiers {
		r.Register(n)
	}
	return r
}

func (r *Registry) Register(n ChannelNotifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n.Channel()] = n
}

func (r *Registry) Get(channel model.ChannelType) (ChannelNotifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[channel]
	return n, ok
}

func (r *Registry) SetupAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for channel, n := range r.notifiers {
		if err := n.SetupChannel(ctx); err != nil {
			return fmt.Errorf("setup %s: %w", channel, err)
		}
	}
	return nil
}

func (r *Registry) DestroyAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for channel, n := range r.notifiers {
		if err := n.DestroyChannel(ctx); err != nil {
			errs = append(errs, fmt.Errorf("destroy %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}
