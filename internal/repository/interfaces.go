package repository

import (
	"context"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
)

// All repository interfaces in one file
type (
	// EndpointRepository persists encrypted endpoint records keyed by user id
	EndpointRepository interface {
		// Get returns nil, nil when the user has no record yet
		Get(ctx context.Context, userID string) (*model.StoredEndpointRecord, error)
		Upsert(ctx context.Context, record *model.StoredEndpointRecord) error
		Delete(ctx context.Context, userID string) error
	}

	// BounceRepository is the bounce history for email addresses
	BounceRepository interface {
		IsBounced(ctx context.Context, email string) (bool, error)
		RecordBounce(ctx context.Context, email string) error
	}
)
