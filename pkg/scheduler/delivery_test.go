package scheduler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/config"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

func testArtifact() *models.Artifact {
	return &models.Artifact{
		ReportID:    uuid.New(),
		Name:        "Weekly Revenue",
		Format:      "json",
		ContentType: "application/json",
		Content:     []byte(`{"rows":[]}`),
		RowCount:    0,
		GeneratedAt: time.Date(2026, 2, 3, 15, 4, 5, 0, time.UTC),
	}
}

func newTestDelivery(store ObjectStore) *Delivery {
	return NewDelivery(&config.SMTPConfig{}, store, zap.NewNop())
}

func TestDeliverWebhook(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	artifact := testArtifact()
	d := newTestDelivery(nil)

	outcomes := d.Deliver(context.Background(), []models.DeliveryChannel{
		{Type: models.ChannelWebhook, Config: map[string]any{
			"url":    server.URL,
			"secret": "s3cret",
		}},
	}, artifact)

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes["webhook[0]"].Success)
	assert.Equal(t, artifact.Content, gotBody)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, artifact.ReportID.String(), gotHeaders.Get("X-Pulse-Report"))
	assert.Equal(t, "Bearer s3cret", gotHeaders.Get("Authorization"))
}

func TestDeliverWebhookRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := newTestDelivery(nil)
	outcomes := d.Deliver(context.Background(), []models.DeliveryChannel{
		{Type: models.ChannelWebhook, Config: map[string]any{"url": server.URL}},
	}, testArtifact())

	assert.True(t, outcomes["webhook[0]"].Success)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverWebhookReportsStatusFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	d := newTestDelivery(nil)
	outcomes := d.Deliver(context.Background(), []models.DeliveryChannel{
		{Type: models.ChannelWebhook, Config: map[string]any{"url": server.URL}},
	}, testArtifact())

	require.False(t, outcomes["webhook[0]"].Success)
	assert.Contains(t, outcomes["webhook[0]"].Error, "status 403")
}

func TestDeliverWebhookRequiresURL(t *testing.T) {
	d := newTestDelivery(nil)
	outcomes := d.Deliver(context.Background(), []models.DeliveryChannel{
		{Type: models.ChannelWebhook},
	}, testArtifact())

	require.False(t, outcomes["webhook[0]"].Success)
	assert.Contains(t, outcomes["webhook[0]"].Error, "no url")
}

func TestDeliverObjectStore(t *testing.T) {
	base := t.TempDir()
	d := newTestDelivery(&FSStore{BaseDir: base})

	outcomes := d.Deliver(context.Background(), []models.DeliveryChannel{
		{Type: models.ChannelObjectStore, Config: map[string]any{"prefix": "reports"}},
	}, testArtifact())

	require.True(t, outcomes["object-store[0]"].Success, outcomes["object-store[0]"].Error)

	path := filepath.Join(base, "reports", "2026", "02", "03", "Weekly_Revenue-150405.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"rows":[]}`), data)
}

func TestDeliverChannelFailuresAreIsolated(t *testing.T) {
	base := t.TempDir()
	d := newTestDelivery(&FSStore{BaseDir: base})

	outcomes := d.Deliver(context.Background(), []models.DeliveryChannel{
		{Type: "carrier-pigeon"},
		{Type: models.ChannelObjectStore},
	}, testArtifact())

	require.Len(t, outcomes, 2)
	assert.False(t, outcomes["carrier-pigeon[0]"].Success)
	assert.Contains(t, outcomes["carrier-pigeon[0]"].Error, "unknown channel type")
	assert.True(t, outcomes["object-store[1]"].Success)
}

func TestDeliverEmailUnconfigured(t *testing.T) {
	d := newTestDelivery(nil)

	outcomes := d.Deliver(context.Background(), []models.DeliveryChannel{
		{Type: models.ChannelEmail, Config: map[string]any{"recipients": []any{"ops@example.com"}}},
	}, testArtifact())

	require.False(t, outcomes["email[0]"].Success)
	assert.Contains(t, outcomes["email[0]"].Error, "smtp is not configured")
}

func TestFSStoreBlocksTraversal(t *testing.T) {
	base := t.TempDir()
	store := &FSStore{BaseDir: base}

	require.NoError(t, store.Put(context.Background(), "../escape.json", "application/json", []byte("{}")))

	// The cleaned key lands inside the base directory.
	_, err := os.Stat(filepath.Join(base, "escape.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(base), "escape.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuildEmail(t *testing.T) {
	artifact := testArtifact()
	msg := string(buildEmail("reports@pulsehq.io", []string{"a@example.com", "b@example.com"}, "Weekly numbers", artifact))

	assert.Contains(t, msg, "From: reports@pulsehq.io")
	assert.Contains(t, msg, "To: a@example.com, b@example.com")
	assert.Contains(t, msg, "Subject: Weekly numbers")
	assert.Contains(t, msg, `filename="Weekly_Revenue.json"`)
	assert.Contains(t, msg, "Content-Transfer-Encoding: base64")
}

func TestStringList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringList([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, stringList([]any{"a", 1, "b"}))
	assert.Equal(t, []string{"a"}, stringList("a"))
	assert.Nil(t, stringList(""))
	assert.Nil(t, stringList(nil))
	assert.Nil(t, stringList(42))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "Weekly_Revenue", sanitizeFilename("Weekly Revenue"))
	assert.Equal(t, "q4_2026_final", sanitizeFilename("q4/2026:final"))
}
