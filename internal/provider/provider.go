package provider

import (
	"context"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
)

// Client is the subset of the delivery provider API the dispatch engine uses.
type Client interface {
	// CreateEndpoint registers (or overwrites) the endpoint with the given id.
	CreateEndpoint(ctx context.Context, spec model.EndpointSpec) error
	GetEndpoint(ctx context.Context, endpointID string) (*model.ProviderEndpoint, error)
	DeleteEndpoint(ctx context.Context, endpointID string) error
	// SendMessages issues one batch send for every endpoint in the request.
	SendMessages(ctx context.Context, req *model.DispatchRequest) (*model.BatchResult, error)
	ValidatePhone(ctx context.Context, phone string) (*model.PhoneValidation, error)
}
