package influxdb

import (
	"testing"
	"time"
)

func TestReviewTransitionPoint(t *testing.T) {
	submitted := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		transition  ReviewTransition
		wantLatency bool
	}{
		{"submission has no latency", ReviewTransition{Event: "submitted", SubmittedAt: submitted, At: submitted}, false},
		{"decision records latency", ReviewTransition{Event: "rejected", SubmittedAt: submitted, At: submitted.Add(time.Minute)}, true},
		{"decision without submit time", ReviewTransition{Event: "approved", At: submitted}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := reviewTransitionPoint(tt.transition)
			if p.Name() != MeasurementReviewTransitions {
				t.Errorf("Name() = %q", p.Name())
			}

			tags := map[string]string{}
			for _, tag := range p.TagList() {
				tags[tag.Key] = tag.Value
			}
			if tags["event"] != tt.transition.Event {
				t.Errorf("event tag = %q, want %q", tags["event"], tt.transition.Event)
			}

			hasLatency := false
			for _, f := range p.FieldList() {
				if f.Key == "decision_latency_seconds" {
					hasLatency = true
				}
			}
			if hasLatency != tt.wantLatency {
				t.Errorf("latency field present = %v, want %v", hasLatency, tt.wantLatency)
			}
		})
	}
}
