package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-reconciler/internal/gtfs"
)

func TestCollector(t *testing.T) {
	c := NewCollector(time.Second, 5*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PollInterval))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.FaultBackoff))

	c.PollOutcome("records")
	c.PollOutcome("records")
	c.StreamFault("expired")
	c.RecordsAdd(3)
	c.SnapshotReplaced(time.Unix(1764439200, 0), []gtfs.VehicleRecord{
		{VehicleID: "V1", OnTimeStatus: gtfs.StatusLate},
		{VehicleID: "V2", OnTimeStatus: gtfs.StatusLate},
		{VehicleID: "V3"},
	})
	c.NATSSetConnected(true)
	c.IngestOutcome("unchanged")
	c.WSClientsSet(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Polls.WithLabelValues("records")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StreamFaults.WithLabelValues("expired")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.RecordsFetched))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.SnapshotVehicles))
	assert.Equal(t, 1764439200.0, testutil.ToFloat64(c.SnapshotGenerated))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Reconciled.WithLabelValues("LATE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Reconciled.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Ingests.WithLabelValues("unchanged")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.WSClients))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `reconciler_polls_total{outcome="records"} 2`)
}
