package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	dispatchapp "github.com/aradsms/messaging_gateway/internal/dispatch_service/app"
	"github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
	httptransport "github.com/aradsms/messaging_gateway/internal/public_api_service/transport/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockQueueOperator struct {
	mock.Mock
}

func (m *MockQueueOperator) Stats(ctx context.Context) (domain.JobCounts, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.JobCounts), args.Error(1)
}

func (m *MockQueueOperator) GetJob(ctx context.Context, id uuid.UUID) (*domain.OutboundJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutboundJob), args.Error(1)
}

func (m *MockQueueOperator) Pause()  { m.Called() }
func (m *MockQueueOperator) Resume() { m.Called() }

func (m *MockQueueOperator) IsPaused() bool {
	return m.Called().Bool(0)
}

func (m *MockQueueOperator) Cleanup(ctx context.Context, policy dispatchapp.RetentionPolicy) (dispatchapp.CleanupResult, error) {
	args := m.Called(ctx, policy)
	return args.Get(0).(dispatchapp.CleanupResult), args.Error(1)
}

func (m *MockQueueOperator) Cancel(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockQueueOperator) Requeue(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockDeliveryPurger struct {
	mock.Mock
}

func (m *MockDeliveryPurger) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}

var testRetention = httptransport.RetentionDefaults{
	Jobs:       dispatchapp.RetentionPolicy{Completed: 24 * time.Hour, Failed: 7 * 24 * time.Hour},
	Deliveries: 30 * 24 * time.Hour,
}

func setupOpsRouter() (chi.Router, *MockQueueOperator, *MockDeliveryPurger) {
	queue := new(MockQueueOperator)
	purger := new(MockDeliveryPurger)
	router := chi.NewRouter()
	httptransport.NewOpsHandler(queue, purger, testRetention, validator.New(), testLogger).RegisterRoutes(router)
	return router, queue, purger
}

func TestOpsHandler_Stats(t *testing.T) {
	router, queue, _ := setupOpsRouter()
	queue.On("Stats", mock.Anything).Return(domain.JobCounts{Waiting: 3, Failed: 1, Paused: true}, nil).Once()

	rr := getJSON(router, "/queue/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	var counts domain.JobCounts
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &counts))
	assert.Equal(t, int64(3), counts.Waiting)
	assert.True(t, counts.Paused)

	queue.On("Stats", mock.Anything).Return(domain.JobCounts{}, errors.New("boom")).Once()
	assert.Equal(t, http.StatusInternalServerError, getJSON(router, "/queue/stats").Code)
	queue.AssertExpectations(t)
}

func TestOpsHandler_PauseResume(t *testing.T) {
	router, queue, _ := setupOpsRouter()

	queue.On("Pause").Return().Once()
	queue.On("IsPaused").Return(true).Once()
	rr := postJSON(router, "/queue/pause", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"paused":true}`, rr.Body.String())

	queue.On("Resume").Return().Once()
	queue.On("IsPaused").Return(false).Once()
	rr = postJSON(router, "/queue/resume", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"paused":false}`, rr.Body.String())
	queue.AssertExpectations(t)
}

func TestOpsHandler_Cleanup(t *testing.T) {
	router, queue, _ := setupOpsRouter()

	queue.On("Cleanup", mock.Anything, testRetention.Jobs).
		Return(dispatchapp.CleanupResult{Completed: 4}, nil).Once()
	rr := postJSON(router, "/queue/cleanup", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"completed":4,"failed":0,"cancelled":0}`, rr.Body.String())

	override := dispatchapp.RetentionPolicy{Completed: 2 * time.Hour, Failed: testRetention.Jobs.Failed}
	queue.On("Cleanup", mock.Anything, override).Return(dispatchapp.CleanupResult{}, nil).Once()
	rr = postJSON(router, "/queue/cleanup", map[string]int{"completed_retention_hours": 2})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = postJSON(router, "/queue/cleanup", map[string]int{"failed_retention_hours": -5})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	queue.AssertExpectations(t)
}

func TestOpsHandler_GetJob(t *testing.T) {
	router, queue, _ := setupOpsRouter()
	id := uuid.New()
	queue.On("GetJob", mock.Anything, id).Return(&domain.OutboundJob{ID: id, Kind: domain.KindText, State: domain.StateWaiting}, nil).Once()

	rr := getJSON(router, "/queue/jobs/"+id.String())
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"state":"waiting"`)

	missing := uuid.New()
	queue.On("GetJob", mock.Anything, missing).Return(nil, domain.ErrJobNotFound).Once()
	assert.Equal(t, http.StatusNotFound, getJSON(router, "/queue/jobs/"+missing.String()).Code)

	assert.Equal(t, http.StatusBadRequest, getJSON(router, "/queue/jobs/not-a-uuid").Code)
	queue.AssertExpectations(t)
}

func TestOpsHandler_CancelAndRequeue(t *testing.T) {
	router, queue, _ := setupOpsRouter()
	id := uuid.New()

	queue.On("Cancel", mock.Anything, id).Return(nil).Once()
	queue.On("GetJob", mock.Anything, id).Return(&domain.OutboundJob{ID: id, State: domain.StateCancelled}, nil).Once()
	rr := postJSON(router, "/queue/jobs/"+id.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"state":"cancelled"`)

	queue.On("Cancel", mock.Anything, id).Return(domain.ErrJobNotCancellable).Once()
	assert.Equal(t, http.StatusConflict, postJSON(router, "/queue/jobs/"+id.String()+"/cancel", nil).Code)

	queue.On("Requeue", mock.Anything, id).Return(nil).Once()
	queue.On("GetJob", mock.Anything, id).Return(&domain.OutboundJob{ID: id, State: domain.StateWaiting}, nil).Once()
	rr = postJSON(router, "/queue/jobs/"+id.String()+"/requeue", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"state":"waiting"`)

	queue.On("Requeue", mock.Anything, id).Return(domain.ErrJobNotRequeueable).Once()
	assert.Equal(t, http.StatusConflict, postJSON(router, "/queue/jobs/"+id.String()+"/requeue", nil).Code)

	other := uuid.New()
	queue.On("Requeue", mock.Anything, other).Return(domain.ErrJobNotFound).Once()
	assert.Equal(t, http.StatusNotFound, postJSON(router, "/queue/jobs/"+other.String()+"/requeue", nil).Code)
	queue.AssertExpectations(t)
}

func TestOpsHandler_Purge(t *testing.T) {
	router, _, purger := setupOpsRouter()

	purger.On("PurgeOlderThan", mock.Anything, testRetention.Deliveries).Return(int64(12), nil).Once()
	rr := postJSON(router, "/deliveries/purge", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deleted":12}`, rr.Body.String())

	purger.On("PurgeOlderThan", mock.Anything, 7*24*time.Hour).Return(int64(0), nil).Once()
	rr = postJSON(router, "/deliveries/purge", map[string]int{"retention_days": 7})
	assert.Equal(t, http.StatusOK, rr.Code)

	purger.On("PurgeOlderThan", mock.Anything, testRetention.Deliveries).Return(int64(0), errors.New("db down")).Once()
	assert.Equal(t, http.StatusInternalServerError, postJSON(router, "/deliveries/purge", nil).Code)
	purger.AssertExpectations(t)
}
