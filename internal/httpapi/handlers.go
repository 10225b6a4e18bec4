package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postcast/internal/destination"
	"postcast/internal/logstore"
	"postcast/internal/refresher"
	"postcast/internal/submission"
	"postcast/pkg/logx"
)

// PostRequest submits one submission to targets ("destination" or
// "destination:account"). With Async set the call returns immediately.
type PostRequest struct {
	Submission json.RawMessage `json:"submission"`
	Targets    []string        `json:"targets"`
	Async      bool            `json:"async,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	var req PostRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.Submission) == 0 {
		respondError(w, r, http.StatusBadRequest, errors.New("submission is required"))
		return
	}
	if len(req.Targets) == 0 {
		respondError(w, r, http.StatusBadRequest, errors.New("at least one target is required"))
		return
	}
	sub, err := submission.Decode("submission.json", req.Submission)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err)
		return
	}
	targets := make([]submission.Target, 0, len(req.Targets))
	for _, raw := range req.Targets {
		t, err := submission.ParseTarget(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err)
			return
		}
		targets = append(targets, t)
	}
	if err := sub.Validate(); err != nil {
		respondError(w, r, http.StatusUnprocessableEntity, err)
		return
	}

	if req.Async {
		ctx := s.background()
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if _, err := s.deps.Poster.Post(ctx, sub, targets); err != nil {
				s.log.Warn("async post failed", logx.String("submission", sub.ID), logx.Err(err))
			}
		}()
		respond(w, r, http.StatusAccepted, map[string]string{"submission_id": sub.ID})
		return
	}

	rep, err := s.deps.Poster.Post(r.Context(), sub, targets)
	if err != nil {
		respondError(w, r, http.StatusUnprocessableEntity, err)
		return
	}
	respond(w, r, http.StatusOK, rep)
}

func (s *Server) listInFlight(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{"in_flight": s.deps.Poster.InFlight()})
}

func (s *Server) cancelPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
			respondError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}
	n := s.deps.Poster.Cancel(id, body.Reason)
	if n == 0 {
		respondError(w, r, http.StatusNotFound, fmt.Errorf("no running attempts for %s", id))
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"cancelled": n})
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		respond(w, r, http.StatusOK, []logstore.Entry{})
		return
	}
	kind := submission.Kind(r.URL.Query().Get("kind"))
	switch kind {
	case "", submission.KindFile, submission.KindNotification:
	default:
		respondError(w, r, http.StatusBadRequest, fmt.Errorf("unknown kind %q", kind))
		return
	}
	entries, err := s.deps.Logs.Query(r.Context(), kind)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	respond(w, r, http.StatusOK, entries)
}

func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		respondError(w, r, http.StatusNotFound, logstore.ErrNotFound)
		return
	}
	e, err := s.deps.Logs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, logstore.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	respond(w, r, http.StatusOK, e)
}

func (s *Server) deleteLog(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		respondError(w, r, http.StatusNotFound, logstore.ErrNotFound)
		return
	}
	err := s.deps.Logs.Remove(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, logstore.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type destinationView struct {
	destination.Metadata
	Accounts []refresher.Status `json:"accounts,omitempty"`
}

func (s *Server) listDestinations(w http.ResponseWriter, r *http.Request) {
	var statuses []refresher.Status
	if s.deps.Statuses != nil {
		statuses = s.deps.Statuses.Statuses()
	}
	var out []destinationView
	if s.deps.Registry != nil {
		for _, m := range s.deps.Registry.Metadata() {
			v := destinationView{Metadata: m}
			for _, st := range statuses {
				if st.Destination == m.ID {
					v.Accounts = append(v.Accounts, st)
				}
			}
			out = append(out, v)
		}
	}
	respond(w, r, http.StatusOK, out)
}
