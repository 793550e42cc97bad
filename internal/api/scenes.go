package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openmux/scrivener/internal/scene"
)

type startSceneRequest struct {
	LocationID string   `json:"location_id"`
	Visibility string   `json:"visibility"`
	Title      string   `json:"title"`
	ChapterID  string   `json:"chapter_id"`
	Groups     []string `json:"groups"`
	Plots      []string `json:"plots"`
}

func (s *Server) handleStartScene(w http.ResponseWriter, r *http.Request) {
	var req startSceneRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	sc, err := s.hub.StartScene(r.Context(), viewerFrom(r), scene.StartParams{
		LocationID:  req.LocationID,
		Visibility:  scene.Visibility(req.Visibility),
		Title:       req.Title,
		ChapterID:   req.ChapterID,
		GroupTokens: req.Groups,
		PlotTokens:  req.Plots,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toSceneDTO(sc))
}

// targetRequest addresses a scene the way in-world commands do: an optional
// explicit reference plus the actor's current location, resolved by
// [scene.Registry.Resolve].
type targetRequest struct {
	Ref        string `json:"ref"`
	LocationID string `json:"location_id"`
}

func (s *Server) handleStopScene(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	sc, err := s.hub.StopScene(r.Context(), viewerFrom(r), req.Ref, req.LocationID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSceneDTO(sc))
}

type setTitleRequest struct {
	targetRequest
	Title string `json:"title"`
}

func (s *Server) handleSetTitle(w http.ResponseWriter, r *http.Request) {
	var req setTitleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	sc, err := s.registry.SetTitle(r.Context(), viewerFrom(r), req.Ref, req.LocationID, req.Title)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSceneDTO(sc))
}

type tokensRequest struct {
	targetRequest
	Tokens []string `json:"tokens"`
}

func (s *Server) handleSetPlots(w http.ResponseWriter, r *http.Request) {
	var req tokensRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	sc, err := s.registry.SetPlots(r.Context(), viewerFrom(r), req.Ref, req.LocationID, req.Tokens)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSceneDTO(sc))
}

func (s *Server) handleAddGroups(w http.ResponseWriter, r *http.Request) {
	var req tokensRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	sc, err := s.registry.AddGroups(r.Context(), viewerFrom(r), req.Ref, req.LocationID, req.Tokens)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSceneDTO(sc))
}

type setVisibilityRequest struct {
	targetRequest
	Visibility string `json:"visibility"`
}

func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	var req setVisibilityRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	sc, err := s.registry.SetVisibility(r.Context(), viewerFrom(r), req.Ref, req.LocationID,
		scene.Visibility(req.Visibility))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSceneDTO(sc))
}

func (s *Server) handleArchiveScene(w http.ResponseWriter, r *http.Request) {
	sc, err := s.registry.Archive(r.Context(), viewerFrom(r), chi.URLParam(r, "ref"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSceneDTO(sc))
}

func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	sc, err := s.registry.SoftDelete(r.Context(), viewerFrom(r), chi.URLParam(r, "ref"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSceneDTO(sc))
}

func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", scene.ErrValidation))
			return
		}
		limit = n
	}
	scenes, err := s.registry.Accessible(r.Context(), viewerFrom(r), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSceneDTOs(scenes))
}

func (s *Server) handleResolveScene(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sc, err := s.registry.Resolve(r.Context(), viewerFrom(r), q.Get("ref"), q.Get("location_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSceneDTO(sc))
}

type sceneDetail struct {
	sceneDTO
	Participants []participantDTO `json:"participants"`
}

func (s *Server) handleSceneDetail(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r)
	sc, err := s.findReadable(r, viewer)
	if err != nil {
		respondError(w, r, err)
		return
	}
	participants, err := s.store.Participants(r.Context(), sc.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sceneDetail{
		sceneDTO:     toSceneDTO(sc),
		Participants: toParticipantDTOs(participants),
	})
}

// findReadable fetches the scene named by the {ref} URL parameter and gates
// it on the viewer's read access. Read access is wider than resolution:
// organisation and event scenes are readable by non-participants the
// resolver admits. Scenes the viewer may not see answer [scene.ErrNotFound],
// never [scene.ErrPermission], so their existence is not revealed.
func (s *Server) findReadable(r *http.Request, viewer scene.Viewer) (scene.Scene, error) {
	ref := chi.URLParam(r, "ref")

	var (
		sc  scene.Scene
		err error
	)
	if n, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		sc, err = s.store.SceneByNumber(r.Context(), n)
	} else {
		sc, err = s.store.Scene(r.Context(), ref)
	}
	if err != nil {
		return scene.Scene{}, err
	}
	if sc.Status == scene.StatusDeleted && !viewer.Privileged {
		return scene.Scene{}, scene.ErrNotFound
	}

	ok, err := s.resolver.CanView(r.Context(), sc, viewer)
	if err != nil {
		return scene.Scene{}, err
	}
	if !ok {
		return scene.Scene{}, scene.ErrNotFound
	}
	return sc, nil
}
