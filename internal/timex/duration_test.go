package timex

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDuration_UnmarshalString(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{`"30s"`, 30 * time.Second},
		{`"1h"`, time.Hour},
		{`"1500ms"`, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		var d Duration
		if err := json.Unmarshal([]byte(tt.in), &d); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if d.Duration != tt.want {
			t.Fatalf("unmarshal %s = %v, want %v", tt.in, d.Duration, tt.want)
		}
	}
}

func TestDuration_UnmarshalNumber(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`60000000000`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != time.Minute {
		t.Fatalf("got %v, want %v", d.Duration, time.Minute)
	}
}

func TestDuration_UnmarshalInvalid(t *testing.T) {
	for _, in := range []string{`"not-a-duration"`, `true`, `{"x":1}`} {
		var d Duration
		if err := json.Unmarshal([]byte(in), &d); err == nil {
			t.Fatalf("unmarshal %s must fail", in)
		}
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration{Duration: 90 * time.Second}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"1m30s"` {
		t.Fatalf("marshal = %s, want %q", data, "1m30s")
	}

	var back Duration
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Duration != d.Duration {
		t.Fatalf("round trip = %v, want %v", back.Duration, d.Duration)
	}
}
