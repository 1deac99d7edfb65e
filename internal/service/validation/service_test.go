package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
	"github.com/jwalitptl/notification-dispatcher/pkg/metrics"
)

type mockPhones struct {
	mock.Mock
}

func (m *mockPhones) ValidatePhone(ctx context.Context, phone string) (*model.PhoneValidation, error) {
	args := m.Called(ctx, phone)
	v, _ := args.Get(0).(*model.PhoneValidation)
	return v, args.Error(1)
}

type fakeBounces struct {
	bounced map[string]bool
	failFor map[string]bool
	added   []string
}

func (f *fakeBounces) IsBounced(_ context.Context, email string) (bool, error) {
	if f.failFor[email] {
		return false, errors.New("redis down")
	}
	return f.bounced[email], nil
}

func (f *fakeBounces) RecordBounce(_ context.Context, email string) error {
	f.added = append(f.added, email)
	return nil
}

func phoneOf(t string) *model.PhoneValidation {
	return &model.PhoneValidation{PhoneType: t}
}

func TestValidatePhones(t *testing.T) {
	phones := new(mockPhones)
	phones.On("ValidatePhone", mock.Anything, "+15550001").Return(phoneOf("MOBILE"), nil)
	phones.On("ValidatePhone", mock.Anything, "+15550002").Return(phoneOf("INVALID"), nil)
	phones.On("ValidatePhone", mock.Anything, "+15550003").Return(nil, errors.New("throttled"))
	phones.On("ValidatePhone", mock.Anything, "+15550004").Return(phoneOf("landline"), nil)

	svc := NewService(phones, nil, Config{}, metrics.NewNop(), logger.Nop())

	got := svc.ValidatePhones(context.Background(), []string{"+15550004", "+15550001", "+15550002", "+15550003"})
	assert.Equal(t, []string{"+15550004", "+15550001"}, got)
}

func TestValidatePhones_RejectedTypesConfigurable(t *testing.T) {
	phones := new(mockPhones)
	phones.On("ValidatePhone", mock.Anything, "+15550001").Return(phoneOf("VOIP"), nil)
	phones.On("ValidatePhone", mock.Anything, "+15550002").Return(phoneOf("MOBILE"), nil)

	svc := NewService(phones, nil, Config{RejectedPhoneTypes: []string{"invalid", "voip"}}, metrics.NewNop(), logger.Nop())

	got := svc.ValidatePhones(context.Background(), []string{"+15550001", "+15550002"})
	assert.Equal(t, []string{"+15550002"}, got)
}

func TestValidatePhones_CachesClassificationNotErrors(t *testing.T) {
	phones := new(mockPhones)
	phones.On("ValidatePhone", mock.Anything, "+15550001").Return(phoneOf("MOBILE"), nil).Once()
	phones.On("ValidatePhone", mock.Anything, "+15550003").Return(nil, errors.New("throttled")).Twice()

	svc := NewService(phones, nil, Config{}, metrics.NewNop(), logger.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got := svc.ValidatePhones(ctx, []string{"+15550001", "+15550003"})
		assert.Equal(t, []string{"+15550001"}, got)
	}
	phones.AssertNumberOfCalls(t, "ValidatePhone", 3)
}

func TestValidatePhones_Empty(t *testing.T) {
	phones := new(mockPhones)
	svc := NewService(phones, nil, Config{}, metrics.NewNop(), logger.Nop())

	assert.Empty(t, svc.ValidatePhones(context.Background(), nil))
	phones.AssertNotCalled(t, "ValidatePhone", mock.Anything, mock.Anything)
}

func TestFilterBounced(t *testing.T) {
	bounces := &fakeBounces{
		bounced: map[string]bool{"b@x.com": true},
		failFor: map[string]bool{"c@x.com": true},
	}
	svc := NewService(nil, bounces, Config{BounceHandlerEnabled: true}, metrics.NewNop(), logger.Nop())

	got := svc.FilterBounced(context.Background(), "U1", []string{"a@x.com", "b@x.com", "c@x.com"})
	assert.Equal(t, []string{"a@x.com", "c@x.com"}, got)
}

func TestFilterBounced_Disabled(t *testing.T) {
	bounces := &fakeBounces{bounced: map[string]bool{"b@x.com": true}}
	svc := NewService(nil, bounces, Config{BounceHandlerEnabled: false}, metrics.NewNop(), logger.Nop())

	in := []string{"a@x.com", "b@x.com"}
	assert.Equal(t, in, svc.FilterBounced(context.Background(), "U1", in))
}

func TestRecordBounce(t *testing.T) {
	bounces := &fakeBounces{}
	svc := NewService(nil, bounces, Config{BounceHandlerEnabled: true}, metrics.NewNop(), logger.Nop())

	require.NoError(t, svc.RecordBounce(context.Background(), "b@x.com"))
	assert.Equal(t, []string{"b@x.com"}, bounces.added)

	noStore := NewService(nil, nil, Config{}, metrics.NewNop(), logger.Nop())
	assert.Error(t, noStore.RecordBounce(context.Background(), "b@x.com"))
}
