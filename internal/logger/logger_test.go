package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestContextFieldsReachOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "test"})

	ctx := log.WithContext(context.Background())
	ctx = SetTaskID(ctx, "task-1")
	ctx = WithField(ctx, FieldWorkerID, 2)

	With(Fields{FieldCount: 3}).Info(ctx, "processed %d items", 3)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not json: %v (%s)", err, buf.String())
	}
	if line["task_id"] != "task-1" {
		t.Errorf("expected task_id field, got %v", line["task_id"])
	}
	if line["worker_id"] != float64(2) {
		t.Errorf("expected worker_id 2, got %v", line["worker_id"])
	}
	if line["count"] != float64(3) {
		t.Errorf("expected count 3, got %v", line["count"])
	}
	if line["message"] != "processed 3 items" {
		t.Errorf("unexpected message %v", line["message"])
	}
	if line["service"] != "test" {
		t.Errorf("expected service field, got %v", line["service"])
	}
	if GetTaskID(ctx) != "task-1" {
		t.Errorf("GetTaskID = %q", GetTaskID(ctx))
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != GetDefault() {
		t.Error("expected default logger for bare context")
	}
}

func TestRequestIDAndDuration(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "info", Format: "json", Output: &buf, ServiceName: "test"})

	ctx := log.WithFields(Fields{FieldRequestID: "req-1"}).WithContext(context.Background())
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID = %q", got)
	}

	base := With(Fields{FieldStatus: "SUCCESS"})
	base.WithDuration(42).Info(ctx, "done")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not json: %v (%s)", err, buf.String())
	}
	if line["duration_ms"] != float64(42) || line["status"] != "SUCCESS" {
		t.Errorf("unexpected fields: %v", line)
	}
	if _, leaked := base.fields[FieldDurationMs]; leaked {
		t.Error("WithDuration modified the original entry")
	}
}
