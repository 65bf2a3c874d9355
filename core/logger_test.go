package core

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(format string) (*ProductionLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := &ProductionLogger{
		level:       "debug",
		debug:       true,
		serviceName: "hitl-orchestrator",
		format:      format,
		output:      buf,
	}
	return logger, buf
}

func TestProductionLoggerJSONFormat(t *testing.T) {
	logger, buf := newTestLogger("json")
	logger.Info("request enqueued", map[string]interface{}{"priority": "high"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log line, got error: %v, body: %s", err, buf.String())
	}
	if entry["message"] != "request enqueued" {
		t.Errorf("message = %v, want %q", entry["message"], "request enqueued")
	}
	if entry["priority"] != "high" {
		t.Errorf("priority = %v, want %q", entry["priority"], "high")
	}
	if entry["component"] != "core" {
		t.Errorf("component = %v, want default %q", entry["component"], "core")
	}
}

func TestProductionLoggerTextFormat(t *testing.T) {
	logger, buf := newTestLogger("text")
	logger.Warn("config reload failed", map[string]interface{}{"path": "config.yaml"})

	line := buf.String()
	if !strings.Contains(line, "WARN") || !strings.Contains(line, "config reload failed") {
		t.Errorf("unexpected log line: %q", line)
	}
}

func TestProductionLoggerDebugGatedByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := &ProductionLogger{serviceName: "svc", format: "text", output: buf, debug: false}

	logger.Debug("should not appear", nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output for Debug() when debug is disabled, got: %q", buf.String())
	}
}

func TestProductionLoggerWithComponent(t *testing.T) {
	logger, buf := newTestLogger("json")
	scoped := logger.WithComponent("routing")
	scoped.Info("scored candidates", nil)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["component"] != "routing" {
		t.Errorf("component = %v, want %q", entry["component"], "routing")
	}
}

func TestMetricsRegistryEnablesOnExistingLoggers(t *testing.T) {
	prev := globalMetricsRegistry
	prevLoggers := createdLoggers
	t.Cleanup(func() {
		globalMetricsRegistry = prev
		createdLoggers = prevLoggers
	})
	globalMetricsRegistry = nil
	createdLoggers = nil

	logger := &ProductionLogger{serviceName: "svc", format: "json", output: &bytes.Buffer{}}
	trackLogger(logger)
	if logger.metricsEnabled {
		t.Fatal("metrics should not be enabled before a registry is set")
	}

	SetMetricsRegistry(&fakeMetricsRegistry{})
	if !logger.metricsEnabled {
		t.Error("expected SetMetricsRegistry to enable metrics on already-created loggers")
	}
}

type fakeMetricsRegistry struct{}

func (f *fakeMetricsRegistry) Counter(name string, labels ...string)                  {}
func (f *fakeMetricsRegistry) Gauge(name string, value float64, labels ...string)     {}
func (f *fakeMetricsRegistry) Histogram(name string, value float64, labels ...string) {}
func (f *fakeMetricsRegistry) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
}
func (f *fakeMetricsRegistry) GetBaggage(ctx context.Context) map[string]string { return nil }
