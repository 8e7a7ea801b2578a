package state

import (
	"testing"
	"time"

	"github.com/fisaks/weatherstation/internal/weather"
)

func TestChangeDetectionAndHeartbeat(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewReadingStateStore().(*readingStateStore)
	s.now = func() time.Time { return now }

	r := weather.SensorReading{Kind: weather.Humidity, Raw: 452, Source: "tinkerforge"}
	if !s.NeedsSend(r, time.Minute) {
		t.Fatalf("first reading must be sent")
	}
	s.Update(r)

	same := r
	same.At = now.Add(time.Second)
	if s.HasChanged(same) {
		t.Fatalf("timestamp alone is not a change")
	}
	if s.NeedsSend(same, time.Minute) {
		t.Fatalf("unchanged reading inside the heartbeat should be skipped")
	}

	now = now.Add(61 * time.Second)
	if !s.NeedsSend(same, time.Minute) {
		t.Fatalf("heartbeat elapsed, reading should be resent")
	}
	if s.NeedsSend(same, 0) {
		t.Fatalf("zero heartbeat disables resends")
	}

	changed := r
	changed.Raw = 453
	if !s.NeedsSend(changed, 0) {
		t.Fatalf("changed value must be sent")
	}
}

func TestAllInRowOrder(t *testing.T) {
	s := NewReadingStateStore()
	s.Update(weather.SensorReading{Kind: weather.Temperature, Raw: 1})
	s.Update(weather.SensorReading{Kind: weather.Illuminance, Raw: 2})
	all := s.All()
	if len(all) != 2 || all[0].Kind != weather.Illuminance || all[1].Kind != weather.Temperature {
		t.Fatalf("All() = %+v", all)
	}
	s.Clear()
	if len(s.All()) != 0 {
		t.Fatalf("Clear should drop everything")
	}
	if _, _, ok := s.GetLast(weather.Temperature); ok {
		t.Fatalf("GetLast after Clear should miss")
	}
}
