package core

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusMetricsRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	MultiMetricsRecorder{rec, nil}.Observe(context.Background(), "publish", true, time.Millisecond)
	rec.Observe(context.Background(), "publish", false, time.Millisecond)
	rec.Observe(context.Background(), "publish", false, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "campaigncore_service_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "status" {
					counts[label.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	if counts["success"] != 1 || counts["error"] != 2 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestSlogAuditRecorderLevels(t *testing.T) {
	var buf bytes.Buffer
	rec := SlogAuditRecorder{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	rec.Record(context.Background(), AuditEntry{Operation: "publish", Status: AuditStatusError, Error: "forbidden", Actor: stranger})
	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"error":"forbidden"`) || !strings.Contains(out, `"actor":"user:99"`) {
		t.Fatalf("unexpected audit log line: %s", out)
	}
	SlogAuditRecorder{}.Record(context.Background(), AuditEntry{})
}

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.Observe(context.Background(), "publish", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "publish", false, 3*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)

	snap := rec.Snapshot()
	if snap.Results["publish"]["success"] != 1 || snap.Results["publish"]["error"] != 1 {
		t.Fatalf("unexpected result counts: %+v", snap.Results)
	}
	if snap.DurationsMS["publish"] != 5 {
		t.Fatalf("expected 5ms total, got %v", snap.DurationsMS["publish"])
	}
	if _, ok := snap.Results[""]; ok {
		t.Fatalf("empty operation must be ignored")
	}
}

func TestJSONTracerRecordsSpans(t *testing.T) {
	tracer := NewJSONTracer(nil)
	_, span := tracer.Start(context.Background(), "save_repeater")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one span, got %d", len(entries))
	}
	if entries[0].Operation != "save_repeater" || entries[0].Status != "error" || entries[0].Error != "boom" {
		t.Fatalf("unexpected span: %+v", entries[0])
	}
}
