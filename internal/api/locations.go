package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openmux/scrivener/internal/scene"
	"github.com/openmux/scrivener/internal/watcher"
)

type enterRequest struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
}

func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.ActorID == "" {
		respondError(w, r, fmt.Errorf("%w: actor_id is required", scene.ErrValidation))
		return
	}
	s.hub.OnEnter(r.Context(), chi.URLParam(r, "locationID"), req.ActorID, req.ActorName)
	w.WriteHeader(http.StatusNoContent)
}

type leaveRequest struct {
	ActorID string `json:"actor_id"`
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.ActorID == "" {
		respondError(w, r, fmt.Errorf("%w: actor_id is required", scene.ErrValidation))
		return
	}
	s.hub.OnLeave(r.Context(), chi.URLParam(r, "locationID"), req.ActorID)
	w.WriteHeader(http.StatusNoContent)
}

type activityRequest struct {
	Kind     string `json:"kind"`
	ActorID  string `json:"actor_id"`
	TargetID string `json:"target_id"`
	Text     string `json:"text"`
	Plain    string `json:"plain"`
}

// handleActivity captures one unit of in-world activity. The in-world
// delivery has already happened by the time this is called, so a location
// with no active scene answers 204 and records nothing.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	kind := scene.EntryKind(req.Kind)
	if !kind.IsValid() {
		respondError(w, r, fmt.Errorf("%w: unknown entry kind %q", scene.ErrValidation, req.Kind))
		return
	}

	e, captured := s.hub.OnActivity(r.Context(), chi.URLParam(r, "locationID"), watcher.Activity{
		Kind:     kind,
		ActorID:  req.ActorID,
		TargetID: req.TargetID,
		Text:     req.Text,
		Plain:    req.Plain,
	})
	if !captured {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusCreated, toEntryDTO(e))
}

type occupantDTO struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name,omitempty"`
}

func (s *Server) handleOccupants(w http.ResponseWriter, r *http.Request) {
	occupants := s.hub.Occupants(chi.URLParam(r, "locationID"))
	out := make([]occupantDTO, 0, len(occupants))
	for _, o := range occupants {
		out = append(out, occupantDTO{ActorID: o.ID, ActorName: o.Name})
	}
	respondJSON(w, http.StatusOK, out)
}
