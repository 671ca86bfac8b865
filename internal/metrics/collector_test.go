package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/objectfs/spillcache/pkg/errors"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if !collector.Enabled() {
			t.Error("default collector should be enabled")
		}
		if collector.config.Namespace != "spillcache" {
			t.Errorf("default namespace = %q, want spillcache", collector.config.Namespace)
		}
		if collector.Registry() == nil {
			t.Error("registry is nil")
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector.Enabled() {
			t.Error("collector should be disabled")
		}
		if collector.Registry() != nil {
			t.Error("disabled collector should not have registry")
		}
	})

	t.Run("two collectors do not collide", func(t *testing.T) {
		if _, err := NewCollector(nil); err != nil {
			t.Fatal(err)
		}
		if _, err := NewCollector(nil); err != nil {
			t.Fatal(err)
		}
	})
}

func TestRecordPartWritten(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	if err != nil {
		t.Fatal(err)
	}

	c.RecordPartWritten(1<<20, 1<<19)
	c.RecordPartWritten(512, 600)

	if got := testutil.ToFloat64(c.partsWritten); got != 2 {
		t.Errorf("parts_written_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.bytesAppended); got != float64(1<<20+512) {
		t.Errorf("bytes_appended_total = %v, want %v", got, 1<<20+512)
	}
	if got := testutil.CollectAndCount(c.partBytes); got != 1 {
		t.Errorf("part_bytes series = %d, want 1", got)
	}
}

func TestRecordPartsDeleted(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	if err != nil {
		t.Fatal(err)
	}

	c.RecordPartsDeleted(ReasonConsumed, 1)
	c.RecordPartsDeleted(ReasonConsumed, 1)
	c.RecordPartsDeleted(ReasonDelete, 5)
	c.RecordPartsDeleted(ReasonDelete, 0)

	tests := []struct {
		reason string
		want   float64
	}{
		{ReasonConsumed, 2},
		{ReasonDelete, 5},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(c.partsDeleted.WithLabelValues(tt.reason)); got != tt.want {
			t.Errorf("parts_deleted_total{reason=%q} = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestReaderMetrics(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	if err != nil {
		t.Fatal(err)
	}

	c.ReaderOpened()
	c.ReaderOpened()
	c.ReaderClosed()
	c.RecordReaderBytes(100)
	c.RecordReaderBytes(0)

	if got := testutil.ToFloat64(c.activeReaders); got != 1 {
		t.Errorf("active_readers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.readerBytes); got != 100 {
		t.Errorf("reader_bytes_total = %v, want 100", got)
	}
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	if err != nil {
		t.Fatal(err)
	}

	c.RecordError("read", errors.NewError(errors.ErrCodePartCorrupt, "bad checksum"))
	c.RecordError("read", fmt.Errorf("plain"))
	c.RecordError("read", nil)

	if got := testutil.ToFloat64(c.errorCounter.WithLabelValues("read", "PART_CORRUPT")); got != 1 {
		t.Errorf("errors_total{PART_CORRUPT} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.errorCounter.WithLabelValues("read", "INTERNAL_ERROR")); got != 1 {
		t.Errorf("errors_total{INTERNAL_ERROR} = %v, want 1", got)
	}
}

func TestProducerRunning(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	if err != nil {
		t.Fatal(err)
	}

	c.SetProducerRunning(true)
	if got := testutil.ToFloat64(c.producerRunning); got != 1 {
		t.Errorf("producer_running = %v, want 1", got)
	}
	c.SetProducerRunning(false)
	if got := testutil.ToFloat64(c.producerRunning); got != 0 {
		t.Errorf("producer_running = %v, want 0", got)
	}
}

func TestDisabledAndNilCollectorsAreNoOps(t *testing.T) {
	t.Parallel()

	disabled, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Collector{nil, disabled} {
		c.RecordPartWritten(1, 1)
		c.RecordPartsDeleted(ReasonDelete, 1)
		c.ReaderOpened()
		c.ReaderClosed()
		c.RecordReaderBytes(1)
		c.RecordError("read", fmt.Errorf("x"))
		c.SetProducerRunning(true)

		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("disabled handler status = %d, want 404", rec.Code)
		}
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Namespace: "test", Labels: map[string]string{"cache": "a"}})
	if err != nil {
		t.Fatal(err)
	}
	c.RecordPartWritten(10, 12)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `test_parts_written_total{cache="a"} 1`) {
		t.Errorf("exposition missing parts_written_total:\n%s", body)
	}
}
