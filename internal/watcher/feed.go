package watcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openmux/scrivener/internal/scene"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls further behind than this loses entries rather than stalling capture.
const subscriberBuffer = 64

// Feed fans appended entries out to live transcript subscribers. Publishing
// never blocks: capture latency is independent of slow readers.
type Feed struct {
	mu   sync.Mutex
	subs map[string]map[chan scene.Entry]struct{}
}

// NewFeed returns an initialised [Feed].
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[chan scene.Entry]struct{})}
}

// Subscribe registers a live reader for the scene. The returned cancel
// function must be called when the reader is done; the channel is closed
// when the scene ends or the subscription is cancelled.
func (f *Feed) Subscribe(sceneID string) (<-chan scene.Entry, func()) {
	ch := make(chan scene.Entry, subscriberBuffer)

	f.mu.Lock()
	set, ok := f.subs[sceneID]
	if !ok {
		set = make(map[chan scene.Entry]struct{})
		f.subs[sceneID] = set
	}
	set[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			if set, ok := f.subs[sceneID]; ok {
				if _, live := set[ch]; live {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(f.subs, sceneID)
				}
			}
			f.mu.Unlock()
		})
	}
	return ch, cancel
}

// publish delivers an entry to every subscriber of the scene, dropping it
// for subscribers whose buffers are full.
func (f *Feed) publish(sceneID string, e scene.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[sceneID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// finish closes every subscription of a scene.
func (f *Feed) finish(sceneID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[sceneID] {
		close(ch)
	}
	delete(f.subs, sceneID)
}

// EndNotifier implements [scene.Notifier] by logging the end of the scene
// per participant and closing the scene's live feeds. It stands in for the
// in-world message delivery the game server performs.
type EndNotifier struct {
	feed *Feed
}

// NewEndNotifier creates an EndNotifier over the feed.
func NewEndNotifier(feed *Feed) *EndNotifier {
	return &EndNotifier{feed: feed}
}

var _ scene.Notifier = (*EndNotifier)(nil)

// SceneEnded implements [scene.Notifier].
func (n *EndNotifier) SceneEnded(ctx context.Context, sc scene.Scene, participants []scene.Participant, auto bool) {
	for _, p := range participants {
		slog.Info("scene end notification",
			"scene", sc.Number, "actor", p.ActorID, "auto_closed", auto)
	}
	if n.feed != nil {
		n.feed.finish(sc.ID)
	}
}
