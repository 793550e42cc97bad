package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/openmux/scrivener/internal/scene"
)

// handleLiveFeed streams newly captured entries of an active scene over a
// websocket. Access is checked before the upgrade with the same rules as
// transcript reads, and each entry is re-checked as it arrives: in a
// private scene a viewer who leaves keeps the connection but stops
// receiving entries until they rejoin, same as a transcript read.
//
// The connection closes when the scene ends, the subscription lags too far
// behind, or the client goes away.
func (s *Server) handleLiveFeed(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r)
	sc, err := s.findReadable(r, viewer)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !sc.Active() {
		respondError(w, r, scene.ErrSceneClosed)
		return
	}
	if s.feed == nil {
		respondError(w, r, errors.New("live feed disabled"))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("api: websocket accept failed", "scene", sc.Number, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	entries, cancel := s.feed.Subscribe(sc.ID)
	defer cancel()

	s.metrics.LiveFeedSubscribers.Add(r.Context(), 1)
	defer s.metrics.LiveFeedSubscribers.Add(context.Background(), -1)

	slog.Info("live feed subscribed",
		"scene", sc.Number, "viewer", viewer.ActorID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "client gone")
			return
		case e, ok := <-entries:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "scene ended")
				return
			}
			ok, err := s.resolver.CanStream(ctx, sc, viewer, e)
			if err != nil {
				slog.Warn("api: live feed access check failed",
					"scene", sc.Number, "viewer", viewer.ActorID, "err", err)
				continue
			}
			if !ok {
				continue
			}
			if err := wsjson.Write(ctx, conn, toEntryDTO(e)); err != nil {
				slog.Warn("api: live feed write failed",
					"scene", sc.Number, "viewer", viewer.ActorID, "err", err)
				return
			}
		}
	}
}
