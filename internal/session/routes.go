package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/imu.recorder/internal/dataset"
	"github.com/banshee-data/imu.recorder/internal/httputil"
	"github.com/banshee-data/imu.recorder/internal/monitoring"
)

// AttachAdminRoutes mounts session controls under /debug/. Saves go to dir.
func (s *Session) AttachAdminRoutes(mux *http.ServeMux, dir string) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("session", "Recording session status", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Status())
	})

	debug.HandleFunc("session-summary", "Per-axis statistics of buffered records", func(w http.ResponseWriter, r *http.Request) {
		sum, err := s.Summary()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, sum)
	})

	// GET returns the dataset metadata for the next save. POST merges the
	// non-empty fields of a JSON body over it.
	debug.HandleFunc("session-info", "Dataset metadata for the next capture", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httputil.WriteJSONOK(w, s.Info())
		case http.MethodPost:
			var in dataset.Info
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				httputil.WriteJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
			info := in.Merge(s.Info())
			if err := s.SetInfo(info); err != nil {
				httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			httputil.WriteJSONOK(w, info)
		default:
			w.Header().Set("Allow", "GET, POST")
			httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	debug.HandleSilentFunc("session-start", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		if err := s.Start(); err != nil {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, s.Status())
	})

	debug.HandleSilentFunc("session-save", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		c, err := s.SaveNext(dir)
		switch {
		case errors.Is(err, ErrRecording), errors.Is(err, ErrNoRecords):
			httputil.Conflict(w, err.Error())
			return
		case err != nil && c.Path == "":
			httputil.InternalServerError(w, err.Error())
			return
		case err != nil:
			// the file is on disk; report it and log the bookkeeping failure
			monitoring.Logf("session-save: %v", err)
		}
		httputil.WriteJSONOK(w, c)
	})

	debug.HandleSilentFunc("session-discard", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		if err := s.Discard(); err != nil {
			httputil.Conflict(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
