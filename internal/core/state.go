package core

import (
	"strings"
	"time"

	"guilddj/pkg/fuzzy"
)

// guildState holds everything the playback driver knows about one guild.
// It is owned by the guild's session goroutine; nothing outside the session
// loop may touch it.
type guildState struct {
	queue   []QueueItem
	current *QueueItem

	autoPlay bool
	loop     bool

	// folded artist key to display name, so spelling variants of the same
	// artist stay one seed
	seeds  map[string]string
	played PlayedStore

	// consecutive failed smart-pick resolutions
	failCount int

	pendingSkip   *SkipVote
	skipNoticeIDs []string

	driver     DriverState
	generation uint64

	voice VoiceSession
	// channel to join once a voice session is needed, taken from the last
	// user who enqueued something
	lastRequesterID string

	songStartedAt time.Time
	songDuration  time.Duration

	nowPlayingMsgID string
	queueMsgID      string

	firstRunDone bool
}

func newGuildState(played PlayedStore) *guildState {
	return &guildState{
		seeds:  make(map[string]string),
		played: played,
		driver: StateIdle,
	}
}

// pop removes and returns the head of the queue.
func (st *guildState) pop() (QueueItem, bool) {
	if len(st.queue) == 0 {
		return QueueItem{}, false
	}
	item := st.queue[0]
	st.queue = st.queue[1:]
	return item, true
}

// pushFront re-inserts an item at the head of the queue. Used by loop mode.
func (st *guildState) pushFront(item QueueItem) {
	st.queue = append([]QueueItem{item}, st.queue...)
}

// feedSeed derives an artist from a query and records it in the seed set.
func (st *guildState) feedSeed(query string) {
	st.addSeed(ExtractArtist(query))
}

// addSeed records an artist, keyed by its folded form. The first spelling
// seen is kept as the display name.
func (st *guildState) addSeed(artist string) {
	if artist == "" {
		return
	}
	key := fuzzy.ArtistKey(artist)
	if key == "" {
		return
	}
	if _, ok := st.seeds[key]; !ok {
		st.seeds[key] = artist
	}
}

// seedList returns the seed artists' display names, order unspecified.
func (st *guildState) seedList() []string {
	out := make([]string, 0, len(st.seeds))
	for _, name := range st.seeds {
		out = append(out, name)
	}
	return out
}

// ExtractArtist derives an artist name from a song query: the text before the
// first hyphen when one is present, otherwise the first whitespace token.
// Returns "" for blank input.
func ExtractArtist(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	if before, _, found := strings.Cut(query, "-"); found {
		return strings.TrimSpace(before)
	}
	return strings.Fields(query)[0]
}
