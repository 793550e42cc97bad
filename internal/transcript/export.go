// Package transcript renders scene transcripts for the presentation
// surface. The plain-text export contains exactly the entries the viewer's
// visibility window allows; re-deriving the entry count from an export gives
// back the length of the filtered entry list.
package transcript

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openmux/scrivener/internal/scene"
)

// timeLayout formats absolute times in export headers.
const timeLayout = "2006-01-02 15:04:05 MST"

// WritePlain writes a plain-text transcript to w. The entries must already
// be filtered for the viewer; this function applies no visibility logic of
// its own. One body line is written per entry.
func WritePlain(w io.Writer, sc scene.Scene, participants []scene.Participant, entries []scene.Entry) error {
	title := sc.Title
	if title == "" {
		title = "(untitled)"
	}

	names := make([]string, 0, len(participants))
	for _, p := range participants {
		name := p.ActorName
		if name == "" {
			name = p.ActorID
		}
		names = append(names, name)
	}

	header := []string{
		fmt.Sprintf("Scene %d: %s", sc.Number, title),
		fmt.Sprintf("Visibility: %s", sc.Visibility),
		fmt.Sprintf("Started: %s", sc.CreatedAt.Format(timeLayout)),
	}
	if !sc.CompletedAt.IsZero() {
		header = append(header, fmt.Sprintf("Completed: %s", sc.CompletedAt.Format(timeLayout)))
	}
	if sc.ChapterID != "" {
		header = append(header, fmt.Sprintf("Chapter: %s", sc.ChapterID))
	}
	header = append(header, fmt.Sprintf("Participants: %s", strings.Join(names, ", ")), "")

	if _, err := io.WriteString(w, strings.Join(header, "\n")+"\n"); err != nil {
		return fmt.Errorf("transcript: write header: %w", err)
	}

	for _, e := range entries {
		text := e.TextPlain
		if text == "" {
			text = scene.StripMarkup(e.Text)
		}
		// Body lines must stay one per entry; embedded newlines would
		// break count re-derivation.
		text = strings.ReplaceAll(text, "\n", " ")
		line := fmt.Sprintf("[%s] %s\n", formatElapsed(e.Timestamp.Sub(sc.CreatedAt)), text)
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("transcript: write entry %d: %w", e.Ordinal, err)
		}
	}
	return nil
}

// EntryCount re-derives the number of entries in a plain-text export
// produced by [WritePlain]: the lines following the blank header separator.
func EntryCount(export string) int {
	lines := strings.Split(export, "\n")
	body := false
	count := 0
	for _, line := range lines {
		if !body {
			if line == "" {
				body = true
			}
			continue
		}
		if line != "" {
			count++
		}
	}
	return count
}

// formatElapsed renders an offset from scene start as H:MM:SS.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
