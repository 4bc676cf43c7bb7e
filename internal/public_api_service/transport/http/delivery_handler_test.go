package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	statusapp "github.com/aradsms/messaging_gateway/internal/delivery_status_service/app"
	statusdomain "github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
	"github.com/aradsms/messaging_gateway/internal/delivery_status_service/repository/memory"
	httptransport "github.com/aradsms/messaging_gateway/internal/public_api_service/transport/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDeliveryRouter(t *testing.T) (chi.Router, *statusapp.Tracker) {
	t.Helper()
	tracker := statusapp.NewTracker(memory.NewDeliveryRecordRepository(), nil, testLogger)
	router := chi.NewRouter()
	httptransport.NewDeliveryHandler(tracker, testLogger).RegisterRoutes(router)
	return router, tracker
}

func seedDelivery(t *testing.T, tracker *statusapp.Tracker, id, recipient string, statuses ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tracker.Seed(ctx, id, recipient, "", nil))
	for _, s := range statuses {
		_, err := tracker.ApplyStatus(ctx, statusdomain.StatusEvent{ProviderMessageID: id, RawStatus: s, Timestamp: time.Now()})
		require.NoError(t, err)
	}
}

func getJSON(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestDeliveryHandler_Get(t *testing.T) {
	router, tracker := setupDeliveryRouter(t)
	seedDelivery(t, tracker, "wamid.1", "+15550001", "sent", "delivered")

	rr := getJSON(router, "/deliveries/wamid.1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var rec statusdomain.DeliveryRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, statusdomain.StatusDelivered, rec.Status)
	assert.Len(t, rec.History, 2)
	assert.NotNil(t, rec.SentAt)
	assert.NotNil(t, rec.DeliveredAt)

	rr = getJSON(router, "/deliveries/wamid.missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeliveryHandler_List(t *testing.T) {
	router, tracker := setupDeliveryRouter(t)
	seedDelivery(t, tracker, "wamid.1", "+15550001", "sent")
	seedDelivery(t, tracker, "wamid.2", "+15550001", "read")
	seedDelivery(t, tracker, "wamid.3", "+15550002", "sent")

	type listBody struct {
		Items []statusdomain.DeliveryRecord `json:"items"`
		Limit int                           `json:"limit"`
	}

	rr := getJSON(router, "/deliveries?recipient=%2B15550001")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var byRecipient listBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &byRecipient))
	assert.Len(t, byRecipient.Items, 2)
	assert.Equal(t, statusdomain.DefaultPageLimit, byRecipient.Limit)

	rr = getJSON(router, "/deliveries?status=sent&limit=1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var byStatus listBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &byStatus))
	assert.Len(t, byStatus.Items, 1)
	assert.Equal(t, 1, byStatus.Limit)

	rr = getJSON(router, "/deliveries?recipient=%2B19999999")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"items":[]`)
}

func TestDeliveryHandler_ListRejects(t *testing.T) {
	router, _ := setupDeliveryRouter(t)

	for _, path := range []string{
		"/deliveries",
		"/deliveries?recipient=%2B1&status=sent",
		"/deliveries?status=bounced",
		"/deliveries?status=sent&limit=-1",
		"/deliveries?status=sent&offset=x",
	} {
		rr := getJSON(router, path)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestDeliveryHandler_Stats(t *testing.T) {
	router, tracker := setupDeliveryRouter(t)
	seedDelivery(t, tracker, "wamid.1", "+15550001", "delivered")
	seedDelivery(t, tracker, "wamid.2", "+15550001", "read")
	seedDelivery(t, tracker, "wamid.3", "+15550001", "failed")
	seedDelivery(t, tracker, "wamid.4", "+15550001")

	rr := getJSON(router, "/deliveries/stats")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var stats statusdomain.Statistics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, 50.0, stats.DeliveryRate)
	assert.Equal(t, 50.0, stats.ReadRate)
	assert.Equal(t, int64(1), stats.ByStatus[statusdomain.StatusPending])

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rr = getJSON(router, "/deliveries/stats?from="+future)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, int64(0), stats.Total)
	assert.Equal(t, 0.0, stats.DeliveryRate)
}

func TestDeliveryHandler_StatsRejects(t *testing.T) {
	router, _ := setupDeliveryRouter(t)

	assert.Equal(t, http.StatusBadRequest, getJSON(router, "/deliveries/stats?from=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest,
		getJSON(router, "/deliveries/stats?from=2024-02-01T00:00:00Z&to=2024-01-01T00:00:00Z").Code)
}
