package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	callbackapp "github.com/aradsms/messaging_gateway/internal/callback_service/app"
	statusdomain "github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
	dispatchdomain "github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
	"github.com/aradsms/messaging_gateway/internal/dispatch_service/provider"
	"github.com/aradsms/messaging_gateway/internal/fanout_service/adapters/websocket"
	fanoutapp "github.com/aradsms/messaging_gateway/internal/fanout_service/app"
	"github.com/aradsms/messaging_gateway/internal/platform/config"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret    = "pipeline-secret"
	testRecipient = "+221700000000"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreBackend:                   "memory",
		ProviderMode:                   "mock",
		NodeID:                         "test-node",
		WebhookAppSecret:               testSecret,
		WebhookVerifyToken:             "verify-me",
		DispatcherWorkers:              2,
		DispatcherMaxAttempts:          3,
		DispatcherBackoffBaseMS:        10,
		DispatcherBackoffMaxMS:         50,
		DispatcherPollIntervalMS:       20,
		ProviderTimeoutSeconds:         5,
		HTTPRequestTimeoutSeconds:      5,
		CleanupCompletedRetentionHours: 24,
		CleanupFailedRetentionHours:    24,
		DeliveryRetentionDays:          90,
	}
}

type testPipeline struct {
	*pipeline
	server *httptest.Server
}

func startPipeline(t *testing.T) testPipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())

	p, err := buildPipeline(ctx, testConfig(), provider.NewMockProvider(logger, false, 0), logger)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.dispatcher.Run(ctx)
	}()
	server := httptest.NewServer(p.router)
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
		p.Close()
	})
	return testPipeline{pipeline: p, server: server}
}

func (tp testPipeline) post(t *testing.T, path string, body []byte, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, tp.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (tp testPipeline) postCallback(t *testing.T, providerMessageID, status string, ts int64) *http.Response {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"waba","changes":[{"field":"messages","value":{"messaging_product":"whatsapp","statuses":[{"id":%q,"status":%q,"timestamp":"%d","recipient_id":"221700000000"}]}}]}]}`,
		providerMessageID, status, ts))
	header := http.Header{}
	header.Set(callbackapp.SignatureHeader, callbackapp.ComputeSignature(testSecret, body))
	return tp.post(t, "/webhooks/provider", body, header)
}

func (tp testPipeline) dialStatus(t *testing.T, topic string) *gorilla.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(tp.server.URL, "http") + "/ws?topic=" + url.QueryEscape(topic)
	conn, resp, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *gorilla.Conn) websocket.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg websocket.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestPipeline_SendTrackAndFanOut(t *testing.T) {
	tp := startPipeline(t)
	topic := fanoutapp.RecipientTopic(testRecipient)
	conn := tp.dialStatus(t, topic)
	ack := readWS(t, conn)
	require.Equal(t, websocket.MessageTypeSubscribed, ack.Type)

	resp := tp.post(t, "/api/v1/messages",
		[]byte(`{"to":"+221700000000","kind":"text","payload":{"body":"Hello"},"conversation_id":"conv-9"}`), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		JobID uuid.UUID `json:"job_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))

	var providerMessageID string
	require.Eventually(t, func() bool {
		job, err := tp.dispatcher.GetJob(context.Background(), accepted.JobID)
		if err != nil || job.State != dispatchdomain.StateCompleted {
			return false
		}
		// Seeding follows completion.
		if _, err := tp.tracker.Get(context.Background(), job.ProviderMessageID); err != nil {
			return false
		}
		providerMessageID = job.ProviderMessageID
		return true
	}, 3*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, providerMessageID)

	rec, err := tp.tracker.Get(context.Background(), providerMessageID)
	require.NoError(t, err)
	assert.Equal(t, statusdomain.StatusPending, rec.Status)
	assert.Equal(t, "conv-9", rec.ConversationID)

	now := time.Now().Unix()
	require.Equal(t, http.StatusOK, tp.postCallback(t, providerMessageID, "sent", now).StatusCode)
	require.Equal(t, http.StatusOK, tp.postCallback(t, providerMessageID, "delivered", now+1).StatusCode)

	first := readWS(t, conn)
	require.Equal(t, websocket.MessageTypeStatus, first.Type)
	require.NotNil(t, first.Data)
	assert.Equal(t, statusdomain.StatusSent, first.Data.Status)
	assert.Equal(t, providerMessageID, first.Data.MessageID)

	second := readWS(t, conn)
	require.NotNil(t, second.Data)
	assert.Equal(t, statusdomain.StatusDelivered, second.Data.Status)
	assert.Equal(t, statusdomain.StatusDelivered, second.Data.CurrentStatus)

	rec, err = tp.tracker.Get(context.Background(), providerMessageID)
	require.NoError(t, err)
	assert.Equal(t, statusdomain.StatusDelivered, rec.Status)
	assert.Len(t, rec.History, 2)
}

func TestPipeline_OrphanAndUnsignedCallbacks(t *testing.T) {
	tp := startPipeline(t)

	resp := tp.postCallback(t, "wamid.unknown", "delivered", time.Now().Unix())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result callbackapp.IngestResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result.Orphans)
	assert.Equal(t, 0, result.Applied)

	unsigned := tp.post(t, "/webhooks/provider", []byte(`{"object":"x","entry":[]}`), nil)
	assert.Equal(t, http.StatusUnauthorized, unsigned.StatusCode)
}

func TestPipeline_HealthAndVerification(t *testing.T) {
	tp := startPipeline(t)

	resp, err := http.Get(tp.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"verify-me"}, "hub.challenge": {"12345"}}
	resp2, err := http.Get(tp.server.URL + "/webhooks/provider?" + q.Encode())
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "12345", string(body))
}
