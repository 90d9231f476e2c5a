package core

import (
	"context"
	"errors"
	"time"
)

// SystemOwnerID marks queue items that were selected by Smart Play rather
// than requested by a user. System-owned items are always skippable and are
// never re-queued by loop mode.
const SystemOwnerID = "system"

// QueueItem is a single pending song request. Looped marks a re-insertion of
// a track that just finished under loop mode; its resolution is exempt from
// the played filter, which would otherwise reject every candidate of a track
// that by definition already played.
type QueueItem struct {
	Query   string
	OwnerID string
	Looped  bool
}

// SystemOwned returns true if the item was auto-selected by Smart Play.
func (i QueueItem) SystemOwned() bool {
	return i.OwnerID == SystemOwnerID
}

// SkipVote records a non-owner's skip request awaiting the song owner's
// approval. At most one vote exists per guild at a time.
type SkipVote struct {
	SongOwnerID string
	RequesterID string
}

type DriverState int

const (
	// StateIdle indicates nothing is queued or streaming
	StateIdle DriverState = iota
	// StateResolving indicates a voice connect or track lookup is in flight
	StateResolving
	// StateStreaming indicates audio is streaming into the voice session
	StateStreaming
)

func (s DriverState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Candidate is one playable entry returned by the track resolver.
type Candidate struct {
	ID        string
	StreamURL string
	Title     string
	Thumbnail string
	Duration  time.Duration
}

// CatalogTrack is a track known to the music catalog.
type CatalogTrack struct {
	Artist string
	Title  string
}

var (
	// ErrArtistNotFound is returned by Catalog.FindArtist when no artist matches
	ErrArtistNotFound = errors.New("artist not found in catalog")
	// ErrNotPlaylistLink is returned by LinkExpander for URLs that are not playlist links
	ErrNotPlaylistLink = errors.New("not a playlist link")
)

// TrackResolver resolves a free-text query or direct URL into playable candidates.
type TrackResolver interface {
	Search(ctx context.Context, queryOrURL string) ([]Candidate, error)
}

// Catalog is the music catalog backing Smart Play.
type Catalog interface {
	FindArtist(ctx context.Context, name string) (string, error)
	Recommendations(ctx context.Context, artistID string, limit, minPopularity int) ([]CatalogTrack, error)
	SearchTracks(ctx context.Context, query string, limit int) ([]CatalogTrack, error)
}

// LinkExpander turns catalog share links into plain search queries.
type LinkExpander interface {
	IsPlaylistLink(url string) bool
	IsTrackLink(url string) bool
	// ExpandPlaylist returns the playlist's tracks as "artist - title" queries
	// plus the set of artist names appearing in it.
	ExpandPlaylist(ctx context.Context, url string) (queries []string, artists []string, err error)
	// TrackQuery resolves a single track link to an "artist - title" query.
	TrackQuery(ctx context.Context, url string) (string, error)
}

// VoiceSession is an established voice connection for one guild.
//
// Play starts streaming the given locator and invokes onComplete exactly once
// when streaming ends for any reason, including Stop. The callback fires on
// the transport's goroutine; callers must marshal it onto their own control
// flow before touching state. Stop is safe to call while idle.
type VoiceSession interface {
	Play(streamURL string, onComplete func())
	Stop()
	Pause()
	Resume()
	Playing() bool
	Paused() bool
	Disconnect()
}

// VoiceDialer locates users in voice channels and establishes voice sessions.
type VoiceDialer interface {
	UserChannel(guildID, userID string) (string, bool)
	Join(ctx context.Context, guildID, channelID string) (VoiceSession, error)
}

// Embed is the frontend-agnostic rich message payload.
type Embed struct {
	Title       string
	Description string
	Thumbnail   string
	Footer      string
}

// Messenger sends and maintains messages in a guild's music channel.
// Delete and PurgeBotMessages are best-effort: implementations swallow
// not-found and permission failures.
type Messenger interface {
	Send(ctx context.Context, channelID string, e Embed) (string, error)
	Edit(ctx context.Context, channelID, messageID string, e Embed) error
	Delete(ctx context.Context, channelID, messageID string) error
	Notice(ctx context.Context, channelID, text string, ttl time.Duration) error
	PurgeBotMessages(ctx context.Context, channelID string, limit int) error
}

// PlayedStore remembers resolver candidate IDs already played this session.
type PlayedStore interface {
	Has(trackID string) bool
	Add(trackID string)
	Size() int
	Clear()
}

// SettingsStore persists the guild to music-channel binding.
type SettingsStore interface {
	ChannelID(guildID string) (string, bool)
	SetChannelID(guildID, channelID string) error
}

// Metrics receives playback counters. Implementations must be safe for
// concurrent use; a nil Metrics is allowed everywhere.
type Metrics interface {
	RecordRequest(kind string)
	RecordResolution(status string)
	RecordSkip(outcome string)
	RecordSmartPick(status string)
	SetActiveGuilds(n int)
	SetQueuedTracks(n int)
}
