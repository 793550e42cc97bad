package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmux/scrivener/internal/scene"
	"github.com/openmux/scrivener/internal/transcript"
)

// entryFilterFrom builds an entry filter from the from, to, and kind query
// parameters. Timestamps are RFC 3339.
func entryFilterFrom(r *http.Request) (scene.EntryFilter, error) {
	var f scene.EntryFilter
	q := r.URL.Query()

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return scene.EntryFilter{}, fmt.Errorf("%w: invalid from timestamp %q", scene.ErrValidation, raw)
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return scene.EntryFilter{}, fmt.Errorf("%w: invalid to timestamp %q", scene.ErrValidation, raw)
		}
		f.To = t
	}
	if raw := q.Get("kind"); raw != "" {
		kind := scene.EntryKind(raw)
		if !kind.IsValid() {
			return scene.EntryFilter{}, fmt.Errorf("%w: unknown entry kind %q", scene.ErrValidation, raw)
		}
		f.Kind = kind
	}
	return f, nil
}

type transcriptResponse struct {
	Scene   sceneDTO   `json:"scene"`
	Entries []entryDTO `json:"entries"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r)
	sc, err := s.findReadable(r, viewer)
	if err != nil {
		respondError(w, r, err)
		return
	}
	filter, err := entryFilterFrom(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	entries, err := s.resolver.VisibleEntries(r.Context(), sc, viewer, filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transcriptResponse{
		Scene:   toSceneDTO(sc),
		Entries: toEntryDTOs(entries),
	})
}

func (s *Server) handleTranscriptExport(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r)
	sc, err := s.findReadable(r, viewer)
	if err != nil {
		respondError(w, r, err)
		return
	}
	entries, err := s.resolver.VisibleEntries(r.Context(), sc, viewer, scene.EntryFilter{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	participants, err := s.store.Participants(r.Context(), sc.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("scene-%d.txt", sc.Number)))
	if err := transcript.WritePlain(w, sc, participants, entries); err != nil {
		// Headers are already out, so a status rewrite is impossible.
		slog.Error("api: transcript export failed", "scene", sc.Number, "err", err)
	}
}
