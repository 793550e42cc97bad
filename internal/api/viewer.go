package api

import (
	"net/http"
	"strings"

	"github.com/openmux/scrivener/internal/scene"
)

// Trusted identity headers set by the game server in front of this API.
const (
	headerActorID    = "X-Actor-ID"
	headerPrivileged = "X-Actor-Privileged"
	headerGroups     = "X-Actor-Groups"
)

// viewerFrom derives the acting viewer from the request's identity headers.
// Absent headers yield an anonymous viewer.
func viewerFrom(r *http.Request) scene.Viewer {
	v := scene.Viewer{
		ActorID:    strings.TrimSpace(r.Header.Get(headerActorID)),
		Privileged: strings.EqualFold(r.Header.Get(headerPrivileged), "true"),
	}
	if raw := r.Header.Get(headerGroups); raw != "" {
		for _, g := range strings.Split(raw, ",") {
			if g = strings.TrimSpace(g); g != "" {
				v.GroupIDs = append(v.GroupIDs, g)
			}
		}
	}
	return v
}
