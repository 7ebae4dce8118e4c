package server

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"wablast/internal/dispatch"
	"wablast/internal/inbound"
	"wablast/internal/transport"
)

type submitJobRequest struct {
	JobID      string               `json:"jobId,omitempty"`
	Recipients []dispatch.Recipient `json:"recipients"`
	Template   dispatch.Template    `json:"template"`
	MediaRef   string               `json:"mediaRef,omitempty"`
	Delay      dispatch.DelayConfig `json:"delayConfig"`
}

type sendRequest struct {
	To       string `json:"to"`
	Content  string `json:"content"`
	MediaRef string `json:"mediaRef,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Connect(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "connected": s.client.Ready()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Disconnect(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	var err error
	if req.MediaRef != "" {
		err = s.client.SendMedia(r.Context(), req.To, req.Content, req.MediaRef)
	} else {
		err = s.client.SendText(r.Context(), req.To, req.Content)
	}
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusPayload{Status: s.client.Status(), Ready: s.client.Ready()})
}

func (s *Server) handleClientInfo(w http.ResponseWriter, _ *http.Request) {
	info := s.client.Info()
	if info == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}

	job := &dispatch.Job{
		ID:         req.JobID,
		Recipients: req.Recipients,
		Template:   req.Template,
		MediaRef:   req.MediaRef,
		Delay:      req.Delay,
	}
	id, err := s.jobs.Submit(job)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, dispatch.ErrTemplateInvalid) {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"jobId":   id,
		"message": "job queued",
	})
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	ok, msg := s.jobs.Pause(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": msg})
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	ok, msg := s.jobs.Resume(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": msg})
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	ok, msg := s.jobs.StopJob(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": msg})
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	recs, err := s.hist.Deliveries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if recs == nil {
		recs = []dispatch.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleOptOuts(w http.ResponseWriter, r *http.Request) {
	outs, err := s.hist.OptOuts(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if outs == nil {
		outs = []inbound.OptOut{}
	}
	writeJSON(w, http.StatusOK, outs)
}

// statusPayload is what ws clients and GET /api/status agree on.
type statusPayload struct {
	Status transport.ConnState `json:"status"`
	Ready  bool                `json:"ready"`
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
