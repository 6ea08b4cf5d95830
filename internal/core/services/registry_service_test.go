package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"streamrelay/internal/core/domain"
	"streamrelay/pkg/circuitbreaker"
)

type MockPeerRegistry struct {
	mock.Mock
}

func (m *MockPeerRegistry) Register(ctx context.Context, stableID domain.StableID, networkID domain.NetworkID) error {
	return m.Called(ctx, stableID, networkID).Error(0)
}

func (m *MockPeerRegistry) Lookup(ctx context.Context, stableID domain.StableID) (domain.NetworkID, error) {
	args := m.Called(ctx, stableID)
	return args.Get(0).(domain.NetworkID), args.Error(1)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) RecordRegistryOperation(operation, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, operation+":"+outcome)
}

func TestRegistryService_Register(t *testing.T) {
	repo := new(MockPeerRegistry)
	obs := &recordingObserver{}
	svc := NewRegistryService(repo, obs, zaptest.NewLogger(t).Sugar())

	repo.On("Register", mock.Anything, domain.StableID("0xSTREAMER_ADDRESS"), domain.NetworkID("peer-1")).Return(nil)

	require.NoError(t, svc.Register(context.Background(), "0xSTREAMER_ADDRESS", "peer-1"))
	repo.AssertExpectations(t)
	assert.Equal(t, []string{"register:ok"}, obs.outcomes)
}

func TestRegistryService_RejectsInvalidInput(t *testing.T) {
	repo := new(MockPeerRegistry)
	svc := NewRegistryService(repo, nil, zaptest.NewLogger(t).Sugar())

	err := svc.Register(context.Background(), "", "peer-1")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)

	err = svc.Register(context.Background(), "addr", "bad id")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)

	_, err = svc.Lookup(context.Background(), "with space")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)

	repo.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
}

func TestRegistryService_Lookup(t *testing.T) {
	repo := new(MockPeerRegistry)
	obs := &recordingObserver{}
	svc := NewRegistryService(repo, obs, zaptest.NewLogger(t).Sugar())

	repo.On("Lookup", mock.Anything, domain.StableID("known")).Return(domain.NetworkID("peer-1"), nil)
	repo.On("Lookup", mock.Anything, domain.StableID("unknown")).Return(domain.NetworkID(""), domain.ErrNotFound)
	repo.On("Lookup", mock.Anything, domain.StableID("broken")).Return(domain.NetworkID(""), errors.New("redis down"))

	got, err := svc.Lookup(context.Background(), "known")
	require.NoError(t, err)
	assert.Equal(t, domain.NetworkID("peer-1"), got)

	_, err = svc.Lookup(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Lookup(context.Background(), "broken")
	assert.EqualError(t, err, "redis down")

	assert.Equal(t, []string{"lookup:ok", "lookup:not_found", "lookup:error"}, obs.outcomes)
}

func TestRegistryService_BreakerShedsFailingBackend(t *testing.T) {
	repo := new(MockPeerRegistry)
	obs := &recordingObserver{}
	svc := NewRegistryService(repo, obs, zaptest.NewLogger(t).Sugar())
	svc.EnableBreaker(circuitbreaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour})

	repo.On("Lookup", mock.Anything, domain.StableID("broken")).Return(domain.NetworkID(""), errors.New("redis down")).Twice()

	for i := 0; i < 2; i++ {
		_, err := svc.Lookup(context.Background(), "broken")
		assert.EqualError(t, err, "redis down")
	}

	_, err := svc.Lookup(context.Background(), "broken")
	assert.ErrorIs(t, err, domain.ErrRegistryUnavailable)

	err = svc.Register(context.Background(), "broken", "peer-1")
	assert.ErrorIs(t, err, domain.ErrRegistryUnavailable)

	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []string{"lookup:error", "lookup:error", "lookup:shed", "register:shed"}, obs.outcomes)
}

func TestRegistryService_BreakerIgnoresMisses(t *testing.T) {
	repo := new(MockPeerRegistry)
	svc := NewRegistryService(repo, nil, zaptest.NewLogger(t).Sugar())
	svc.EnableBreaker(circuitbreaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour})

	repo.On("Lookup", mock.Anything, domain.StableID("unknown")).Return(domain.NetworkID(""), domain.ErrNotFound)

	for i := 0; i < 3; i++ {
		_, err := svc.Lookup(context.Background(), "unknown")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	repo.AssertNumberOfCalls(t, "Lookup", 3)
}
