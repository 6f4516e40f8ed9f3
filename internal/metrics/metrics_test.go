package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nfrund/roomsync/internal/chat"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Feed(t *testing.T) {
	m := New()

	m.ClientsChanged(3)
	m.SnapshotBroadcast(7)
	m.SnapshotBroadcast(8)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.feedClients))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.snapshots))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.logSize))
}

func TestMetrics_NotifierCountsByOp(t *testing.T) {
	m := New()
	var forwarded []chat.Notice
	n := m.Notifier(chat.NotifierFunc(func(n chat.Notice) { forwarded = append(forwarded, n) }))

	n.Notify(chat.Notice{Op: chat.OpReact, Err: errors.New("nope")})
	n.Notify(chat.Notice{Op: chat.OpReact, Err: errors.New("nope")})
	n.Notify(chat.Notice{Op: chat.OpSendText, Err: errors.New("offline")})
	m.Notifier(nil).Notify(chat.Notice{Op: chat.OpStart})

	assert.Len(t, forwarded, 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.actionFailures.WithLabelValues(chat.OpReact)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionFailures.WithLabelValues(chat.OpSendText)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionFailures.WithLabelValues(chat.OpStart)))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SnapshotBroadcast(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "roomsync_feed_snapshots_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
