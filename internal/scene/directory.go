package scene

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Ref is a resolved group or plot reference.
type Ref struct {
	ID   string
	Name string
}

// Directory resolves the group and plot references used by scene
// annotations. The world model that owns groups and plots lives outside the
// engine; implementations adapt it to these lookups.
type Directory interface {
	// Group resolves a token (identifier or name, case-insensitive) to a
	// group. The second return is false when no group matches.
	Group(token string) (Ref, bool)

	// Plot resolves a token to a plot the same way.
	Plot(token string) (Ref, bool)

	// GroupNames and PlotNames return all known names, used to suggest
	// alternatives when a token does not resolve.
	GroupNames() []string
	PlotNames() []string
}

// StaticDirectory is a fixed [Directory] built from configuration. Lookups
// match on ID exactly or on name case-insensitively.
type StaticDirectory struct {
	groups []Ref
	plots  []Ref
}

// NewStaticDirectory builds a [StaticDirectory] from the given refs.
func NewStaticDirectory(groups, plots []Ref) *StaticDirectory {
	return &StaticDirectory{
		groups: append([]Ref(nil), groups...),
		plots:  append([]Ref(nil), plots...),
	}
}

var _ Directory = (*StaticDirectory)(nil)

// Group implements [Directory.Group].
func (d *StaticDirectory) Group(token string) (Ref, bool) { return findRef(d.groups, token) }

// Plot implements [Directory.Plot].
func (d *StaticDirectory) Plot(token string) (Ref, bool) { return findRef(d.plots, token) }

// GroupNames implements [Directory.GroupNames].
func (d *StaticDirectory) GroupNames() []string { return refNames(d.groups) }

// PlotNames implements [Directory.PlotNames].
func (d *StaticDirectory) PlotNames() []string { return refNames(d.plots) }

func findRef(refs []Ref, token string) (Ref, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Ref{}, false
	}
	for _, r := range refs {
		if r.ID == token || strings.EqualFold(r.Name, token) {
			return r, true
		}
	}
	return Ref{}, false
}

func refNames(refs []Ref) []string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name
	}
	return names
}

// maxSuggestDistance caps how far a near-miss may be from a known name
// before no suggestion is offered.
const maxSuggestDistance = 3

// SuggestName returns the known name closest to token by edit distance, for
// use in unknown-reference error messages. The empty string means nothing
// was close enough to suggest.
func SuggestName(token string, names []string) string {
	best := ""
	bestDist := maxSuggestDistance + 1
	for _, name := range names {
		d := matchr.Levenshtein(strings.ToLower(token), strings.ToLower(name))
		if d < bestDist {
			best = name
			bestDist = d
		}
	}
	return best
}
