package validation

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
	"github.com/jwalitptl/notification-dispatcher/internal/repository"
	apperrors "github.com/jwalitptl/notification-dispatcher/pkg/errors"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
	"github.com/jwalitptl/notification-dispatcher/pkg/metrics"
	"github.com/jwalitptl/notification-dispatcher/pkg/security"
)

const (
	reasonRejectedPhone = "rejected_phone_type"
	reasonPhoneError    = "phone_validation_error"
	reasonBounced       = "bounced"
)

// PhoneValidator classifies a phone number. provider.Client satisfies it.
type PhoneValidator interface {
	ValidatePhone(ctx context.Context, phone string) (*model.PhoneValidation, error)
}

type Config struct {
	// RejectedPhoneTypes are provider phone types that are never sent to.
	RejectedPhoneTypes   []string
	BounceHandlerEnabled bool
	PhoneCacheTTL        time.Duration
}

type Service struct {
	phones        PhoneValidator
	bounces       repository.BounceRepository
	cache         *cache.Cache
	rejected      map[string]struct{}
	bounceEnabled bool
	metrics       *metrics.Metrics
	logger        *logger.Logger
}

func NewService(phones PhoneValidator, bounces repository.BounceRepository, cfg Config, m *metrics.Metrics, log *logger.Logger) *Service {
	rejectedTypes := cfg.RejectedPhoneTypes
	if len(rejectedTypes) == 0 {
		rejectedTypes = []string{model.PhoneTypeInvalid}
	}
	rejected := make(map[string]struct{}, len(rejectedTypes))
	for _, t := range rejectedTypes {
		rejected[strings.ToUpper(strings.TrimSpace(t))] = struct{}{}
	}

	ttl := cfg.PhoneCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Service{
		phones:        phones,
		bounces:       bounces,
		cache:         cache.New(ttl, 2*ttl),
		rejected:      rejected,
		bounceEnabled: cfg.BounceHandlerEnabled,
		metrics:       m,
		logger:        log,
	}
}

// ValidatePhones drops numbers the provider classifies as undeliverable.
// A number whose classification fails is dropped too. Order is preserved.
func (s *Service) ValidatePhones(ctx context.Context, addresses []string) []string {
	valid := make([]string, 0, len(addresses))
	for _, phone := range addresses {
		phoneType, err := s.phoneType(ctx, phone)
		if err != nil {
			s.logger.Warn("Phone validation failed, dropping number",
				"phone", security.MaskPhone(phone),
				"error", err.Error())
			s.filtered(model.ChannelSMS, reasonPhoneError)
			continue
		}
		if _, rejected := s.rejected[phoneType]; rejected {
			s.logger.Info("Dropping undeliverable phone number",
				"phone", security.MaskPhone(phone),
				"phone_type", phoneType)
			s.filtered(model.ChannelSMS, reasonRejectedPhone)
			continue
		}
		valid = append(valid, phone)
	}
	return valid
}

func (s *Service) phoneType(ctx context.Context, phone string) (string, error) {
	if cached, ok := s.cache.Get(phone); ok {
		return cached.(string), nil
	}
	result, err := s.phones.ValidatePhone(ctx, phone)
	if err != nil {
		return "", err
	}
	phoneType := strings.ToUpper(result.PhoneType)
	if phoneType == "" {
		phoneType = model.PhoneTypeInvalid
	}
	s.cache.SetDefault(phone, phoneType)
	return phoneType, nil
}

// FilterBounced drops emails with a bounce on record. It is a no-op when the
// bounce handler is disabled. A failed lookup keeps the address.
func (s *Service) FilterBounced(ctx context.Context, userID string, emails []string) []string {
	if !s.bounceEnabled || s.bounces == nil {
		return emails
	}

	kept := make([]string, 0, len(emails))
	for _, email := range emails {
		bounced, err := s.bounces.IsBounced(ctx, email)
		if err != nil {
			s.logger.Error(err, "Bounce lookup failed, keeping address",
				"user_id", userID,
				"email", security.MaskEmail(email))
			kept = append(kept, email)
			continue
		}
		if bounced {
			s.logger.Info("Dropping bounced email address",
				"user_id", userID,
				"email", security.MaskEmail(email))
			s.filtered(model.ChannelEmail, reasonBounced)
			continue
		}
		kept = append(kept, email)
	}
	return kept
}

// RecordBounce adds an address to the bounce history.
func (s *Service) RecordBounce(ctx context.Context, email string) error {
	if s.bounces == nil {
		return apperrors.NewBadRequest("bounce handling is not configured", nil)
	}
	if err := s.bounces.RecordBounce(ctx, email); err != nil {
		return err
	}
	s.logger.Info("Bounce recorded", "email", security.MaskEmail(email))
	return nil
}

func (s *Service) filtered(channel model.ChannelType, reason string) {
	s.metrics.AddressesFiltered.WithLabelValues(string(channel), reason).Inc()
}
