package directory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
	apperrors "github.com/jwalitptl/notification-dispatcher/pkg/errors"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
	"github.com/jwalitptl/notification-dispatcher/pkg/metrics"
	"github.com/jwalitptl/notification-dispatcher/pkg/security"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateEndpoint(ctx context.Context, spec model.EndpointSpec) error {
	return m.Called(ctx, spec).Error(0)
}

func (m *mockProvider) GetEndpoint(ctx context.Context, endpointID string) (*model.ProviderEndpoint, error) {
	args := m.Called(ctx, endpointID)
	ep, _ := args.Get(0).(*model.ProviderEndpoint)
	return ep, args.Error(1)
}

func (m *mockProvider) DeleteEndpoint(ctx context.Context, endpointID string) error {
	return m.Called(ctx, endpointID).Error(0)
}

// memoryRepo keeps stored records in memory. beforeGet runs ahead of every
// Get so tests can simulate a concurrent writer.
type memoryRepo struct {
	records   map[string]*model.StoredEndpointRecord
	gets      int
	upserts   int
	beforeGet func(n int)
	getErr    error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]*model.StoredEndpointRecord)}
}

func copyStored(r *model.StoredEndpointRecord) *model.StoredEndpointRecord {
	out := *r
	out.Endpoints = make(map[model.ChannelType]map[string]string, len(r.Endpoints))
	for ch, entries := range r.Endpoints {
		m := make(map[string]string, len(entries))
		for k, v := range entries {
			m[k] = v
		}
		out.Endpoints[ch] = m
	}
	return &out
}

func (r *memoryRepo) Get(_ context.Context, userID string) (*model.StoredEndpointRecord, error) {
	r.gets++
	if r.beforeGet != nil {
		r.beforeGet(r.gets)
	}
	if r.getErr != nil {
		return nil, r.getErr
	}
	rec, ok := r.records[userID]
	if !ok {
		return nil, nil
	}
	return copyStored(rec), nil
}

func (r *memoryRepo) Upsert(_ context.Context, record *model.StoredEndpointRecord) error {
	r.upserts++
	r.records[record.UserID] = copyStored(record)
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, userID string) error {
	if _, ok := r.records[userID]; !ok {
		return apperrors.NewNotFound("endpoint record", nil)
	}
	delete(r.records, userID)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memoryRepo
	provider *mockProvider
	cipher   *security.StringCipher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	enc, err := security.NewAESEncryptorFromSecret("test-secret", "test-salt")
	require.NoError(t, err)
	cipher := security.NewStringCipher(enc)

	repo := newMemoryRepo()
	provider := new(mockProvider)
	svc := NewService(repo, provider, cipher, metrics.NewNop(), logger.Nop())

	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("ep-%d", n)
	}
	return &fixture{svc: svc, repo: repo, provider: provider, cipher: cipher}
}

// store writes a plain record through the cipher, as the service would.
func (f *fixture) store(t *testing.T, record *model.EndpointRecord) {
	t.Helper()
	stored, err := f.svc.encrypt(record)
	require.NoError(t, err)
	f.repo.records[record.UserID] = stored
}

func (f *fixture) expectCreate(id, address string, channel model.ChannelType) {
	f.provider.On("CreateEndpoint", mock.Anything, model.EndpointSpec{
		EndpointID: id, Address: address, Channel: channel, UserID: "U1",
	}).Return(nil).Once()
	f.provider.On("GetEndpoint", mock.Anything, id).Return(&model.ProviderEndpoint{
		EndpointID: id, Address: address, Channel: channel, UserID: "U1",
	}, nil).Once()
}

func TestResolveEndpoints_CreatesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.expectCreate("ep-1", "a@x.com", model.ChannelEmail)
	f.expectCreate("ep-2", "b@x.com", model.ChannelEmail)

	first, err := f.svc.ResolveEndpoints(ctx, "U1", model.ChannelEmail, []string{"a@x.com", "b@x.com", "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a@x.com": "ep-1", "b@x.com": "ep-2"}, first)
	assert.Equal(t, 1, f.repo.upserts)

	// stored keys are ciphertext
	stored := f.repo.records["U1"].Endpoints[model.ChannelEmail]
	assert.Len(t, stored, 2)
	assert.NotContains(t, stored, "a@x.com")

	second, err := f.svc.ResolveEndpoints(ctx, "U1", model.ChannelEmail, []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.repo.upserts)
	f.provider.AssertNumberOfCalls(t, "CreateEndpoint", 2)
	f.provider.AssertExpectations(t)
}

func TestResolveEndpoints_NoMissingMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	record := model.NewEndpointRecord("U1")
	record.Merge(model.ChannelSMS, map[string]string{"+15550001": "s1", "+15550002": "s2"})
	f.store(t, record)

	got, err := f.svc.ResolveEndpoints(context.Background(), "U1", model.ChannelSMS, []string{"+15550002"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"+15550002": "s2"}, got)
	assert.Equal(t, 0, f.repo.upserts)
	f.provider.AssertNotCalled(t, "CreateEndpoint", mock.Anything, mock.Anything)
}

func TestResolveEndpoints_PartialFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.On("CreateEndpoint", mock.Anything, mock.MatchedBy(func(s model.EndpointSpec) bool {
		return s.Address == "+15550001"
	})).Return(errors.New("provider down")).Once()
	f.expectCreate("ep-2", "+15550002", model.ChannelSMS)

	got, err := f.svc.ResolveEndpoints(context.Background(), "U1", model.ChannelSMS, []string{"+15550001", "+15550002"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"+15550002": "ep-2"}, got)
	assert.Equal(t, 1, f.repo.upserts)
}

func TestResolveEndpoints_AllFailedDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	f.provider.On("CreateEndpoint", mock.Anything, mock.Anything).Return(errors.New("provider down"))

	got, err := f.svc.ResolveEndpoints(context.Background(), "U1", model.ChannelSMS, []string{"+15550001"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, f.repo.upserts)
}

func TestResolveEndpoints_MismatchDeletesEndpoint(t *testing.T) {
	f := newFixture(t)
	f.provider.On("CreateEndpoint", mock.Anything, mock.Anything).Return(nil).Once()
	f.provider.On("GetEndpoint", mock.Anything, "ep-1").Return(&model.ProviderEndpoint{
		EndpointID: "ep-1", Address: "other@x.com", Channel: model.ChannelEmail,
	}, nil).Once()
	f.provider.On("DeleteEndpoint", mock.Anything, "ep-1").Return(nil).Once()

	got, err := f.svc.ResolveEndpoints(context.Background(), "U1", model.ChannelEmail, []string{"a@x.com"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, f.repo.upserts)
	f.provider.AssertExpectations(t)
}

func TestResolveEndpoints_PersistMergesConcurrentWrites(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("ep-1", "a@x.com", model.ChannelEmail)
	f.expectCreate("ep-2", "b@x.com", model.ChannelEmail)

	// another dispatch stores b@x.com and an SMS number between our load and persist
	f.repo.beforeGet = func(n int) {
		if n != 2 {
			return
		}
		concurrent := model.NewEndpointRecord("U1")
		concurrent.Merge(model.ChannelEmail, map[string]string{"b@x.com": "other-b"})
		concurrent.Merge(model.ChannelSMS, map[string]string{"+15550001": "s1"})
		f.store(t, concurrent)
	}

	got, err := f.svc.ResolveEndpoints(context.Background(), "U1", model.ChannelEmail, []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a@x.com": "ep-1", "b@x.com": "other-b"}, got)

	record, err := f.svc.Lookup(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a@x.com": "ep-1", "b@x.com": "other-b"}, record.Endpoints[model.ChannelEmail])
	assert.Equal(t, map[string]string{"+15550001": "s1"}, record.Endpoints[model.ChannelSMS])
}

func TestResolveEndpoints_CorruptRecord(t *testing.T) {
	f := newFixture(t)
	f.repo.records["U1"] = &model.StoredEndpointRecord{
		UserID: "U1",
		Endpoints: map[model.ChannelType]map[string]string{
			model.ChannelEmail: {"not-ciphertext": "e1"},
		},
	}

	_, err := f.svc.ResolveEndpoints(context.Background(), "U1", model.ChannelEmail, []string{"a@x.com"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDirectoryCorrupt))
	f.provider.AssertNotCalled(t, "CreateEndpoint", mock.Anything, mock.Anything)
}

func TestResolveEndpoints_LoadError(t *testing.T) {
	f := newFixture(t)
	f.repo.getErr = errors.New("db down")

	_, err := f.svc.ResolveEndpoints(context.Background(), "U1", model.ChannelEmail, []string{"a@x.com"})
	assert.Error(t, err)
}

func TestLookup_Absent(t *testing.T) {
	f := newFixture(t)

	record, err := f.svc.Lookup(context.Background(), "U7")
	require.NoError(t, err)
	assert.Equal(t, "U7", record.UserID)
	assert.Empty(t, record.Endpoints)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.store(t, model.NewEndpointRecord("U1"))

	require.NoError(t, f.svc.Delete(context.Background(), "U1"))
	assert.True(t, apperrors.Is(f.svc.Delete(context.Background(), "U1"), apperrors.ErrNotFound))
}
