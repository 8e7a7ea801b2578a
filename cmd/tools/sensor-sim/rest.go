package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/fisaks/weatherstation/internal/weather"
)

type setValueRequest struct {
	Value *float64 `json:"value"`
}

func NewRouter(s *Sensor) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/sensor", getSensorHandler(s)).Methods("GET")
	r.HandleFunc("/sensor/{kind}", setSensorValueHandler(s)).Methods("PUT")

	return r
}

func StartRestAPI(listen string, s *Sensor) error {
	log.Printf("Sensor simulator REST API listening on %s", listen)
	return http.ListenAndServe(listen, handlers.LoggingHandler(os.Stdout, NewRouter(s)))
}

/* ------------------------ helpers: json & errors ------------------------ */

func readJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

/* ------------------------------ handlers -------------------------------- */

func getSensorHandler(s *Sensor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.State())
	}
}

func setSensorValueHandler(s *Sensor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := weather.ParseKind(mux.Vars(r)["kind"])
		if err != nil {
			fail(w, http.StatusNotFound, err.Error())
			return
		}
		var req setValueRequest
		if err := readJSON(r, &req); err != nil || req.Value == nil {
			fail(w, http.StatusBadRequest, "body must be {\"value\": number}")
			return
		}
		if err := s.Set(kind, *req.Value); err != nil {
			fail(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.State())
	}
}
