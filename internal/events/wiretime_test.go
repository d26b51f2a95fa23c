package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWireTimeUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", `"2026-03-04T05:06:07Z"`, time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)},
		{"rfc3339 offset", `"2026-03-04T07:06:07+02:00"`, time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)},
		{"iso without zone", `"2026-03-04T05:06:07.5"`, time.Date(2026, 3, 4, 5, 6, 7, 500_000_000, time.UTC)},
		{"space separated", `"2026-03-04 05:06:07"`, time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)},
		{"unix seconds", `1767225600`, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"unix millis", `1767225600000`, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"null", `null`, time.Time{}},
		{"garbage string", `"yesterday"`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var wt WireTime
			if err := json.Unmarshal([]byte(tt.in), &wt); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !wt.Equal(tt.want) {
				t.Errorf("got %v, want %v", wt.Time, tt.want)
			}
		})
	}
}

func TestWireTimeMarshal(t *testing.T) {
	data, err := json.Marshal(WireTime{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "null" {
		t.Errorf("zero time = %s, want null", data)
	}

	data, err = json.Marshal(WireTime{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"2026-01-01T00:00:00Z"` {
		t.Errorf("got %s", data)
	}
}
