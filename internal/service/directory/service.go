package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
	"github.com/jwalitptl/notification-dispatcher/internal/repository"
	apperrors "github.com/jwalitptl/notification-dispatcher/pkg/errors"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
	"github.com/jwalitptl/notification-dispatcher/pkg/metrics"
	"github.com/jwalitptl/notification-dispatcher/pkg/security"
)

// EndpointProvider is the endpoint management half of provider.Client.
type EndpointProvider interface {
	CreateEndpoint(ctx context.Context, spec model.EndpointSpec) error
	GetEndpoint(ctx context.Context, endpointID string) (*model.ProviderEndpoint, error)
	DeleteEndpoint(ctx context.Context, endpointID string) error
}

// Cipher encrypts address keys before they are stored.
type Cipher interface {
	EncryptString(plain string) (string, error)
	DecryptString(encoded string) (string, error)
}

type Service struct {
	repo     repository.EndpointRepository
	provider EndpointProvider
	cipher   Cipher
	newID    func() string
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

func NewService(repo repository.EndpointRepository, provider EndpointProvider, cipher Cipher, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		cipher:   cipher,
		newID:    uuid.NewString,
		metrics:  m,
		logger:   log,
	}
}

// Lookup returns the decrypted record for userID, empty when none is stored.
func (s *Service) Lookup(ctx context.Context, userID string) (*model.EndpointRecord, error) {
	return s.load(ctx, userID)
}

// Delete removes the stored record for userID. Provider endpoints are left as is.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("Endpoint record deleted", "user_id", userID)
	return nil
}

// ResolveEndpoints returns address -> endpoint id for every requested address
// that has, or could be given, a provider endpoint on channel. Addresses that
// fail to resolve are left out. Calling it again with the same input makes no
// provider calls and returns the same map.
func (s *Service) ResolveEndpoints(ctx context.Context, userID string, channel model.ChannelType, addresses []string) (map[string]string, error) {
	record, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	addresses = dedupe(addresses)
	var missing []string
	for _, address := range addresses {
		if _, ok := record.Lookup(channel, address); !ok {
			missing = append(missing, address)
		}
	}
	if len(missing) == 0 {
		return record.Subset(channel, addresses), nil
	}

	created := make(map[string]string, len(missing))
	for _, address := range missing {
		id, err := s.createEndpoint(ctx, userID, channel, address)
		if err != nil {
			s.logger.Warn("Endpoint creation failed, skipping address",
				"user_id", userID,
				"channel", string(channel),
				"address", security.MaskAddress(address),
				"error", err.Error())
			continue
		}
		created[address] = id
	}

	if len(created) == 0 {
		return record.Subset(channel, addresses), nil
	}

	latest, err := s.persist(ctx, userID, channel, created)
	if err != nil {
		return nil, err
	}
	return latest.Subset(channel, addresses), nil
}

// createEndpoint registers address with the provider and confirms it by
// reading it back. A confirmed endpoint for another address or channel is
// deleted again.
func (s *Service) createEndpoint(ctx context.Context, userID string, channel model.ChannelType, address string) (string, error) {
	id := s.newID()
	err := s.provider.CreateEndpoint(ctx, model.EndpointSpec{
		EndpointID: id,
		Address:    address,
		Channel:    channel,
		UserID:     userID,
	})
	if err != nil {
		s.created(channel, "failed")
		return "", err
	}

	endpoint, err := s.provider.GetEndpoint(ctx, id)
	if err != nil {
		s.created(channel, "failed")
		return "", fmt.Errorf("confirm endpoint %s: %w", id, err)
	}

	if !strings.EqualFold(endpoint.Address, address) || endpoint.Channel != channel {
		s.created(channel, "mismatch")
		if delErr := s.provider.DeleteEndpoint(ctx, id); delErr != nil {
			s.logger.Error(delErr, "Failed to delete mismatched endpoint",
				"user_id", userID,
				"endpoint_id", id)
		}
		return "", fmt.Errorf("endpoint %s confirmed as %s/%s", id, endpoint.Channel, security.MaskAddress(endpoint.Address))
	}

	s.created(channel, "created")
	return id, nil
}

// persist re-reads the stored record and unions the new entries into it, so
// entries written concurrently by another dispatch are kept.
func (s *Service) persist(ctx context.Context, userID string, channel model.ChannelType, created map[string]string) (*model.EndpointRecord, error) {
	latest, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	latest.Merge(channel, created)

	stored, err := s.encrypt(latest)
	if err != nil {
		return nil, apperrors.NewInternal(fmt.Errorf("encrypt endpoint record: %w", err))
	}
	if err := s.repo.Upsert(ctx, stored); err != nil {
		return nil, err
	}

	s.logger.Debug("Endpoint record persisted",
		"user_id", userID,
		"channel", string(channel),
		"added", len(created))
	return latest, nil
}

func (s *Service) load(ctx context.Context, userID string) (*model.EndpointRecord, error) {
	stored, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return model.NewEndpointRecord(userID), nil
	}
	return s.decrypt(stored)
}

func (s *Service) decrypt(stored *model.StoredEndpointRecord) (*model.EndpointRecord, error) {
	record := model.NewEndpointRecord(stored.UserID)
	record.UpdatedAt = stored.UpdatedAt
	for channel, entries := range stored.Endpoints {
		plain := make(map[string]string, len(entries))
		for encAddress, id := range entries {
			address, err := s.cipher.DecryptString(encAddress)
			if err != nil {
				return nil, apperrors.DirectoryCorrupt(stored.UserID, err)
			}
			plain[address] = id
		}
		record.Merge(channel, plain)
	}
	return record, nil
}

func (s *Service) encrypt(record *model.EndpointRecord) (*model.StoredEndpointRecord, error) {
	stored := &model.StoredEndpointRecord{
		UserID:    record.UserID,
		Endpoints: make(map[model.ChannelType]map[string]string, len(record.Endpoints)),
		UpdatedAt: time.Now().UTC(),
	}
	for channel, entries := range record.Endpoints {
		enc := make(map[string]string, len(entries))
		for address, id := range entries {
			encAddress, err := s.cipher.EncryptString(address)
			if err != nil {
				return nil, err
			}
			enc[encAddress] = id
		}
		stored.Endpoints[channel] = enc
	}
	return stored, nil
}

func (s *Service) created(channel model.ChannelType, result string) {
	s.metrics.EndpointsCreated.WithLabelValues(string(channel), result).Inc()
}

func dedupe(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, address := range addresses {
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		out = append(out, address)
	}
	return out
}
