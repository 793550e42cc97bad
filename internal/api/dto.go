package api

import (
	"time"

	"github.com/openmux/scrivener/internal/scene"
)

// sceneDTO is the wire representation of a scene.
type sceneDTO struct {
	ID          string     `json:"id"`
	Number      int64      `json:"number"`
	LocationID  string     `json:"location_id,omitempty"`
	Status      string     `json:"status"`
	Visibility  string     `json:"visibility"`
	Title       string     `json:"title,omitempty"`
	ChapterID   string     `json:"chapter_id,omitempty"`
	GroupIDs    []string   `json:"group_ids,omitempty"`
	PlotIDs     []string   `json:"plot_ids,omitempty"`
	StartedBy   string     `json:"started_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	AutoClosed  bool       `json:"auto_closed,omitempty"`
}

func toSceneDTO(sc scene.Scene) sceneDTO {
	dto := sceneDTO{
		ID:         sc.ID,
		Number:     sc.Number,
		LocationID: sc.LocationID,
		Status:     string(sc.Status),
		Visibility: string(sc.Visibility),
		Title:      sc.Title,
		ChapterID:  sc.ChapterID,
		GroupIDs:   sc.GroupIDs,
		PlotIDs:    sc.PlotIDs,
		StartedBy:  sc.StartedBy,
		CreatedAt:  sc.CreatedAt,
		AutoClosed: sc.AutoClosed,
	}
	if !sc.CompletedAt.IsZero() {
		t := sc.CompletedAt
		dto.CompletedAt = &t
	}
	return dto
}

func toSceneDTOs(scenes []scene.Scene) []sceneDTO {
	out := make([]sceneDTO, 0, len(scenes))
	for _, sc := range scenes {
		out = append(out, toSceneDTO(sc))
	}
	return out
}

// participantDTO is the wire representation of a participant record.
type participantDTO struct {
	ActorID       string     `json:"actor_id"`
	ActorName     string     `json:"actor_name,omitempty"`
	FirstJoinedAt time.Time  `json:"first_joined_at"`
	LastLeftAt    *time.Time `json:"last_left_at,omitempty"`
	Present       bool       `json:"present"`
}

func toParticipantDTOs(participants []scene.Participant) []participantDTO {
	out := make([]participantDTO, 0, len(participants))
	for _, p := range participants {
		dto := participantDTO{
			ActorID:       p.ActorID,
			ActorName:     p.ActorName,
			FirstJoinedAt: p.FirstJoinedAt,
			Present:       p.Present,
		}
		if !p.LastLeftAt.IsZero() {
			t := p.LastLeftAt
			dto.LastLeftAt = &t
		}
		out = append(out, dto)
	}
	return out
}

// entryDTO is the wire representation of a transcript entry.
type entryDTO struct {
	Ordinal   int64     `json:"ordinal"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actor_id,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	Text      string    `json:"text"`
	TextPlain string    `json:"text_plain,omitempty"`
}

func toEntryDTO(e scene.Entry) entryDTO {
	return entryDTO{
		Ordinal:   e.Ordinal,
		Timestamp: e.Timestamp,
		Kind:      string(e.Kind),
		ActorID:   e.ActorID,
		TargetID:  e.TargetID,
		Text:      e.Text,
		TextPlain: e.TextPlain,
	}
}

func toEntryDTOs(entries []scene.Entry) []entryDTO {
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e))
	}
	return out
}
