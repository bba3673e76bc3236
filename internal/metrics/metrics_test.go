package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.ObserveRebuild(3 * time.Millisecond)
	c.IncTaint("ownership")
	c.IncTaint("ownership")
	c.IncIncremental("add")
	c.IncSkipped()
	c.ObserveTick(time.Millisecond, 10, 4)
	c.IncPriorityFault("OOB")
	c.SetParcelPrims("parcel-1", 10, 0, 2, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.PrimRebuilds))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.PrimTaints.WithLabelValues("ownership")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PrimIncremental.WithLabelValues("add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PrimSkipped))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.InterestRanked))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.InterestCulled))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PriorityFaults.WithLabelValues("OOB")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.ParcelPrims.WithLabelValues("parcel-1", "owner")))

	c.ResetParcelPrims()
	assert.Equal(t, 0, testutil.CollectAndCount(c.ParcelPrims))
}

func TestNew_ReRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	second.ObserveRebuild(time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.PrimRebuilds), "collectors are shared")
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveRebuild(time.Second)
		c.IncTaint("x")
		c.IncIncremental("add")
		c.IncSkipped()
		c.SetParcelPrims("p", 1, 2, 3, 4)
		c.ResetParcelPrims()
		c.ObserveTick(time.Second, 1, 1)
		c.IncPriorityFault("Time")
	})
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	c.ObserveRebuild(time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "primcount_rebuilds_total 1"))
}
