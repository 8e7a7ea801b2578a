package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/messaging"
	"github.com/fisaks/weatherstation/internal/station"
	"github.com/fisaks/weatherstation/internal/weather"
)

// directCommands applies commands to the mirror synchronously so tests can read the result.
type directCommands struct {
	mirror *lcd.Mirror
	got    []weather.IncomingDisplayCommand
	err    error
	room   int // > 0: accept this many commands, then report a full queue
}

func (d *directCommands) OnDisplayCommand(_ context.Context, in weather.IncomingDisplayCommand) error {
	if d.err != nil {
		return d.err
	}
	if d.room > 0 && len(d.got) == d.room {
		return station.ErrQueueFull
	}
	cmd, err := station.ToDisplayCommand(in)
	if err != nil {
		return err
	}
	d.got = append(d.got, in)
	switch cmd.Action {
	case weather.ActionWrite:
		return d.mirror.WriteLine(cmd.Row, cmd.Col, cmd.Text)
	case weather.ActionClear:
		return d.mirror.Clear()
	}
	return nil
}

type fakeHistory struct {
	recentKind  weather.Kind
	recentLimit int
}

func (f *fakeHistory) Latest(context.Context) ([]weather.SensorReading, error) {
	return []weather.SensorReading{{Kind: weather.Humidity, Raw: 452, Source: "db"}}, nil
}

func (f *fakeHistory) Recent(_ context.Context, kind weather.Kind, limit int) ([]weather.SensorReading, error) {
	f.recentKind, f.recentLimit = kind, limit
	return []weather.SensorReading{{Kind: kind, Raw: 1, Source: "db"}}, nil
}

func newTestAPI(history ReadingHistory) (*API, *directCommands, *lcd.Mirror) {
	m := lcd.NewMirror()
	cmds := &directCommands{mirror: m}
	return New(Options{Mirror: m, Commands: cmds, History: history}), cmds, m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetDisplay(t *testing.T) {
	api, _, m := newTestAPI(nil)
	_ = m.WriteLine(3, 0, "Temperature 21.50 "+string([]byte{lcd.DegreeSign})+"C")

	rec := do(t, api.Router(), "GET", "/lcd", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp displayResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Rows) != lcd.Rows || resp.Text[3] != "Temperature 21.50 °C" {
		t.Fatalf("response = %+v", resp)
	}

	rec = do(t, api.Router(), "GET", "/lcd/text", "")
	if !strings.Contains(rec.Body.String(), "|Temperature 21.50 °C|") {
		t.Fatalf("text view = %q", rec.Body.String())
	}
}

func TestPostLinesAndClear(t *testing.T) {
	api, cmds, m := newTestAPI(nil)
	h := api.Router()

	rec := do(t, h, "POST", "/lcd/lines", `{"lines":[{"row":0,"text":"hello"},{"row":"2","col":5,"text":"world"}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(m.Row(0), "hello") || m.Row(2)[5:10] != "world" {
		t.Fatalf("rows = %q", m.Snapshot())
	}

	rec = do(t, h, "POST", "/lcd/clear", "")
	if rec.Code != http.StatusAccepted || strings.TrimSpace(m.Row(0)) != "" {
		t.Fatalf("clear failed: %d %q", rec.Code, m.Row(0))
	}
	if len(cmds.got) != 3 {
		t.Fatalf("commands = %d", len(cmds.got))
	}
}

func TestPostLinesRejectsBadInput(t *testing.T) {
	api, cmds, _ := newTestAPI(nil)
	h := api.Router()
	for _, body := range []string{
		`not json`,
		`{"lines":[]}`,
		`{"lines":[{"text":"no row"}]}`,
		`{"lines":[{"row":0,"text":"ok"},{"row":7,"text":"bad"}]}`,
	} {
		if rec := do(t, h, "POST", "/lcd/lines", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, rec.Code)
		}
	}
	if len(cmds.got) != 0 {
		t.Fatalf("nothing should be queued when a line is invalid, got %d", len(cmds.got))
	}
}

func TestQueueFullIsUnavailable(t *testing.T) {
	api, cmds, _ := newTestAPI(nil)
	cmds.err = station.ErrQueueFull
	if rec := do(t, api.Router(), "POST", "/lcd/clear", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPostLinesReportsPartialQueue(t *testing.T) {
	api, cmds, m := newTestAPI(nil)
	cmds.room = 2

	rec := do(t, api.Router(), "POST", "/lcd/lines", `{"lines":[{"row":0,"text":"a"},{"row":1,"text":"b"},{"row":2,"text":"c"}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp linesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Queued != 2 || resp.Error == "" {
		t.Fatalf("response = %+v", resp)
	}
	if !strings.HasPrefix(m.Row(1), "b") || strings.TrimSpace(m.Row(2)) != "" {
		t.Fatalf("rows = %q", m.Snapshot())
	}
}

func TestReadingsFromMemory(t *testing.T) {
	api, _, _ := newTestAPI(nil)
	_ = api.Store(context.Background(), weather.SensorReading{Kind: weather.AirPressure, Raw: 1013250, At: time.Now()})

	rec := do(t, api.Router(), "GET", "/readings/latest", "")
	var msgs []messaging.ReadingMessage
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Value != 1013.25 || msgs[0].Unit != "mbar" {
		t.Fatalf("latest = %+v", msgs)
	}

	rec = do(t, api.Router(), "GET", "/readings/airPressure", "")
	msgs = nil
	_ = json.NewDecoder(rec.Body).Decode(&msgs)
	if len(msgs) != 1 {
		t.Fatalf("recent = %+v", msgs)
	}

	if rec := do(t, api.Router(), "GET", "/readings/wind", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown kind status = %d", rec.Code)
	}
}

func TestReadingsFromHistory(t *testing.T) {
	hist := &fakeHistory{}
	api, _, _ := newTestAPI(hist)

	rec := do(t, api.Router(), "GET", "/readings/temperature?limit=5", "")
	if rec.Code != http.StatusOK || hist.recentKind != weather.Temperature || hist.recentLimit != 5 {
		t.Fatalf("status=%d kind=%v limit=%d", rec.Code, hist.recentKind, hist.recentLimit)
	}
	if rec := do(t, api.Router(), "GET", "/readings/temperature?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}

	rec = do(t, api.Router(), "GET", "/readings/latest", "")
	if !strings.Contains(rec.Body.String(), `"source":"db"`) {
		t.Fatalf("latest should come from history: %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ready := false
	m := lcd.NewMirror()
	api := New(Options{Mirror: m, Commands: &directCommands{mirror: m}, Ready: func() bool { return ready }})
	h := api.Handler()

	if rec := do(t, h, "GET", "/health/live", ""); rec.Code != http.StatusOK {
		t.Fatalf("live = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/health/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready before connect = %d", rec.Code)
	}
	ready = true
	if rec := do(t, h, "GET", "/health/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}
}

func TestUnknownCommandErrorIsBadRequest(t *testing.T) {
	api, cmds, _ := newTestAPI(nil)
	cmds.err = errors.New("boom")
	if rec := do(t, api.Router(), "POST", "/lcd/clear", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
