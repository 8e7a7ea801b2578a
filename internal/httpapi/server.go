// Package httpapi exposes the display mirror and recent readings over HTTP and accepts the
// same display commands as the MQTT command topic.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/messaging"
	"github.com/fisaks/weatherstation/internal/state"
	"github.com/fisaks/weatherstation/internal/station"
	"github.com/fisaks/weatherstation/internal/weather"
)

const defaultRecentLimit = 20

type ReadingHistory interface {
	Latest(ctx context.Context) ([]weather.SensorReading, error)
	Recent(ctx context.Context, kind weather.Kind, limit int) ([]weather.SensorReading, error)
}

type Options struct {
	Mirror   *lcd.Mirror
	Commands weather.DisplaySubscriber
	History  ReadingHistory // optional
	Ready    func() bool
}

// API is also a reading sink so /readings works without a history database.
type API struct {
	opts   Options
	latest state.ReadingStateStore
}

func New(opts Options) *API {
	return &API{opts: opts, latest: state.NewReadingStateStore()}
}

func (a *API) Name() string { return "http" }

func (a *API) Store(_ context.Context, r weather.SensorReading) error {
	a.latest.Update(r)
	return nil
}

type linesRequest struct {
	Lines []lineRequest `json:"lines"`
}

type lineRequest struct {
	Row  any    `json:"row"`
	Col  any    `json:"col,omitempty"`
	Text string `json:"text"`
}

type displayResponse struct {
	Rows []string `json:"rows"`
	Text []string `json:"text"`
}

func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health/live", a.live).Methods("GET")
	r.HandleFunc("/health/ready", a.ready).Methods("GET")
	r.HandleFunc("/lcd", a.getDisplay).Methods("GET")
	r.HandleFunc("/lcd/text", a.getDisplayText).Methods("GET")
	r.HandleFunc("/lcd/lines", a.postLines).Methods("POST")
	r.HandleFunc("/lcd/clear", a.postClear).Methods("POST")
	r.HandleFunc("/readings/latest", a.getLatest).Methods("GET")
	r.HandleFunc("/readings/{kind}", a.getRecent).Methods("GET")

	return r
}

func (a *API) Handler() http.Handler {
	return handlers.LoggingHandler(logging.WrapSlog("component", "http").Writer(), a.Router())
}

// Serve blocks until ctx is done, then shuts the server down gracefully.
func (a *API) Serve(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP API listening", "addr", listen)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (a *API) live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) ready(w http.ResponseWriter, _ *http.Request) {
	if a.opts.Ready != nil && !a.opts.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) getDisplay(w http.ResponseWriter, _ *http.Request) {
	rows := a.opts.Mirror.Snapshot()
	text := make([]string, len(rows))
	for i, row := range rows {
		text[i] = lcd.ConsoleText(row)
	}
	writeJSON(w, http.StatusOK, displayResponse{Rows: rows, Text: text})
}

func (a *API) getDisplayText(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(lcd.Frame(a.opts.Mirror.Snapshot())))
}

func (a *API) postLines(w http.ResponseWriter, r *http.Request) {
	var req linesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "lines cannot be empty")
		return
	}
	cmds := make([]weather.IncomingDisplayCommand, 0, len(req.Lines))
	for _, l := range req.Lines {
		if l.Row == nil {
			writeError(w, http.StatusBadRequest, "every line needs a row")
			return
		}
		in := weather.IncomingDisplayCommand{Action: weather.ActionWrite, Row: l.Row, Col: l.Col, Text: l.Text}
		if _, err := station.ToDisplayCommand(in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cmds = append(cmds, in)
	}
	for i, in := range cmds {
		if err := a.opts.Commands.OnDisplayCommand(r.Context(), in); err != nil {
			// Lines before i are already queued; tell the client how many.
			writeJSON(w, submitStatus(err), linesResponse{Queued: i, Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusAccepted, linesResponse{Queued: len(cmds)})
}

type linesResponse struct {
	Queued int    `json:"queued"`
	Error  string `json:"error,omitempty"`
}

func (a *API) postClear(w http.ResponseWriter, r *http.Request) {
	if a.submit(r.Context(), w, weather.IncomingDisplayCommand{Action: weather.ActionClear}) {
		writeJSON(w, http.StatusAccepted, map[string]int{"queued": 1})
	}
}

func (a *API) submit(ctx context.Context, w http.ResponseWriter, in weather.IncomingDisplayCommand) bool {
	if err := a.opts.Commands.OnDisplayCommand(ctx, in); err != nil {
		writeError(w, submitStatus(err), err.Error())
		return false
	}
	return true
}

func submitStatus(err error) int {
	if errors.Is(err, station.ErrQueueFull) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func (a *API) getLatest(w http.ResponseWriter, r *http.Request) {
	readings := a.latest.All()
	if a.opts.History != nil {
		stored, err := a.opts.History.Latest(r.Context())
		if err != nil {
			logging.Error("history latest failed", "error", err)
			writeError(w, http.StatusInternalServerError, "history unavailable")
			return
		}
		readings = stored
	}
	writeJSON(w, http.StatusOK, toMessages(readings))
}

func (a *API) getRecent(w http.ResponseWriter, r *http.Request) {
	kind, err := weather.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	limit := defaultRecentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var readings []weather.SensorReading
	if a.opts.History != nil {
		readings, err = a.opts.History.Recent(r.Context(), kind, limit)
		if err != nil {
			logging.Error("history recent failed", "kind", kind, "error", err)
			writeError(w, http.StatusInternalServerError, "history unavailable")
			return
		}
	} else if last, _, ok := a.latest.GetLast(kind); ok {
		readings = []weather.SensorReading{last}
	}
	writeJSON(w, http.StatusOK, toMessages(readings))
}

func toMessages(readings []weather.SensorReading) []messaging.ReadingMessage {
	out := make([]messaging.ReadingMessage, 0, len(readings))
	for _, r := range readings {
		out = append(out, messaging.NewReadingMessage(r))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("http response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
