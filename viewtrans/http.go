package viewtrans

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterHTTP mounts the control API on r:
//
//	GET  /api/health
//	GET  /api/tabs
//	GET  /api/tabs/{tabID}
//	POST /api/tabs/{tabID}/start
//	POST /api/tabs/{tabID}/stop
func (reg *Registry) RegisterHTTP(r chi.Router) {
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tabs": len(reg.List())})
	})
	r.Get("/api/tabs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, reg.List())
	})
	r.Route("/api/tabs/{tabID}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			s, ok := reg.Get(chi.URLParam(req, "tabID"))
			if !ok {
				writeError(w, http.StatusNotFound, ErrNoSession)
				return
			}
			writeJSON(w, http.StatusOK, s.Stats())
		})
		r.Post("/start", reg.commandHandler(StartTranslation{}))
		r.Post("/stop", reg.commandHandler(StopTranslation{}))
	})
}

func (reg *Registry) commandHandler(cmd Command) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tabID := chi.URLParam(req, "tabID")
		if err := reg.Apply(req.Context(), tabID, cmd); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrNoSession) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		s, _ := reg.Get(tabID)
		state := Idle
		if s != nil {
			state = s.State()
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"tab_id": tabID, "action": cmd.Action(), "state": state})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
