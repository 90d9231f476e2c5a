package core

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// sessionQueueDepth bounds how many pending closures a guild session holds
// before posters block.
const sessionQueueDepth = 64

// PlayedStoreFactory builds a fresh played-track set for a new guild session.
type PlayedStoreFactory func() PlayedStore

// Orchestrator owns one session per guild and routes song requests, skip
// votes and control commands onto the owning session's goroutine. All guild
// state lives in guildState and is only ever touched on that goroutine.
type Orchestrator struct {
	config    *Config
	resolver  TrackResolver
	catalog   Catalog
	expander  LinkExpander
	voice     VoiceDialer
	messenger Messenger
	settings  SettingsStore
	picker    *SmartPicker
	metrics   Metrics
	logger    *zap.Logger

	newPlayedStore PlayedStoreFactory

	sessionsMutex sync.RWMutex
	sessions      map[string]*guildSession

	queuedTotal atomic.Int64

	// overridable in tests
	now func() time.Time
}

func NewOrchestrator(
	config *Config,
	resolver TrackResolver,
	catalog Catalog,
	expander LinkExpander,
	voice VoiceDialer,
	messenger Messenger,
	settings SettingsStore,
	picker *SmartPicker,
	metrics Metrics,
	newPlayedStore PlayedStoreFactory,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		config:         config,
		resolver:       resolver,
		catalog:        catalog,
		expander:       expander,
		voice:          voice,
		messenger:      messenger,
		settings:       settings,
		picker:         picker,
		metrics:        metrics,
		newPlayedStore: newPlayedStore,
		logger:         logger,
		sessions:       make(map[string]*guildSession),
		now:            time.Now,
	}
}

// guildSession serializes all state mutation for one guild. External
// goroutines (frontend handlers, resolver workers, the voice transport)
// interact with it only through post.
type guildSession struct {
	guildID string
	orch    *Orchestrator
	state   *guildState
	logger  *zap.Logger

	cmds chan func()
	quit chan struct{}
}

func (o *Orchestrator) session(guildID string) *guildSession {
	o.sessionsMutex.RLock()
	s, exists := o.sessions[guildID]
	o.sessionsMutex.RUnlock()
	if exists {
		return s
	}

	o.sessionsMutex.Lock()
	defer o.sessionsMutex.Unlock()
	if s, exists = o.sessions[guildID]; exists {
		return s
	}

	s = &guildSession{
		guildID: guildID,
		orch:    o,
		state:   newGuildState(o.newPlayedStore()),
		logger:  o.logger.With(zap.String("guildID", guildID)),
		cmds:    make(chan func(), sessionQueueDepth),
		quit:    make(chan struct{}),
	}
	o.sessions[guildID] = s
	go s.run()

	// sessions are only reaped on shutdown, so this gauge counts guilds
	// served since boot rather than guilds currently playing
	if o.metrics != nil {
		o.metrics.SetActiveGuilds(len(o.sessions))
	}
	o.logger.Info("Started guild session", zap.String("guildID", guildID))
	return s
}

func (s *guildSession) run() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.quit:
			return
		}
	}
}

// post marshals fn onto the session goroutine. Posts after shutdown are
// dropped.
func (s *guildSession) post(fn func()) {
	select {
	case <-s.quit:
	case s.cmds <- fn:
	}
}

// Stop disconnects every guild's voice session and stops the session
// goroutines.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.logger.Info("Stopping orchestrator")

	o.sessionsMutex.Lock()
	sessions := make([]*guildSession, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.sessions = make(map[string]*guildSession)
	o.sessionsMutex.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		s.post(func() {
			defer wg.Done()
			if s.state.voice != nil {
				s.state.voice.Disconnect()
				s.state.voice = nil
			}
			close(s.quit)
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleRequest processes one song request from a user: catalog share links
// are expanded to plain queries first, then the result is enqueued on the
// guild session. Expansion happens on the caller's goroutine since it may
// block on the network.
func (o *Orchestrator) HandleRequest(guildID, userID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	ctx := context.Background()

	if o.expander != nil && o.expander.IsPlaylistLink(text) {
		o.recordRequest("playlist")
		queries, artists, err := o.expander.ExpandPlaylist(ctx, text)
		if err != nil || len(queries) == 0 {
			o.logger.Warn("Playlist expansion failed",
				zap.String("guildID", guildID),
				zap.Error(err))
			o.notice(guildID, "Couldn't read that playlist, try again later.")
			return
		}
		if limit := o.config.App.PlaylistExpandLimit; len(queries) > limit {
			queries = queries[:limit]
		}
		s := o.session(guildID)
		s.post(func() { s.enqueuePlaylist(queries, artists, userID) })
		return
	}

	query := text
	if o.expander != nil && o.expander.IsTrackLink(text) {
		resolved, err := o.expander.TrackQuery(ctx, text)
		if err != nil {
			o.logger.Warn("Track link lookup failed",
				zap.String("guildID", guildID),
				zap.Error(err))
			o.notice(guildID, "Couldn't read that track link, try again later.")
			return
		}
		query = resolved
	}

	o.recordRequest("track")
	s := o.session(guildID)
	s.post(func() { s.enqueue(QueueItem{Query: query, OwnerID: userID}, userID) })
}

// RequestSkip runs the skip protocol for the guild on behalf of userID.
func (o *Orchestrator) RequestSkip(guildID, userID string) {
	s := o.session(guildID)
	s.post(func() { s.requestSkip(userID) })
}

// ToggleSmartPlay flips auto-play for the guild and reseeds from the current
// track and queue when enabling.
func (o *Orchestrator) ToggleSmartPlay(guildID string) {
	s := o.session(guildID)
	s.post(func() { s.toggleSmartPlay() })
}

// ToggleLoop flips loop mode for the guild.
func (o *Orchestrator) ToggleLoop(guildID string) {
	s := o.session(guildID)
	s.post(func() { s.toggleLoop() })
}

// Pause pauses the guild's stream if one is active.
func (o *Orchestrator) Pause(guildID string) {
	s := o.session(guildID)
	s.post(func() {
		if s.state.voice != nil && s.state.voice.Playing() {
			s.state.voice.Pause()
		}
	})
}

// Resume resumes a paused stream.
func (o *Orchestrator) Resume(guildID string) {
	s := o.session(guildID)
	s.post(func() {
		if s.state.voice != nil && s.state.voice.Paused() {
			s.state.voice.Resume()
		}
	})
}

// HardStop tears the guild session down to factory state: disconnects voice,
// purges bot messages, clears queue, seeds, votes and played history.
func (o *Orchestrator) HardStop(guildID string) {
	s := o.session(guildID)
	s.post(func() { s.hardStop() })
}

// SoftRefresh stops playback and clears state but keeps the voice
// connection alive.
func (o *Orchestrator) SoftRefresh(guildID string) {
	s := o.session(guildID)
	s.post(func() { s.softRefresh() })
}

// BindChannel records channelID as the guild's music channel.
func (o *Orchestrator) BindChannel(guildID, channelID string) error {
	if err := o.settings.SetChannelID(guildID, channelID); err != nil {
		return err
	}
	o.logger.Info("Bound music channel",
		zap.String("guildID", guildID),
		zap.String("channelID", channelID))
	return nil
}

// channelFor returns the guild's bound music channel, if any.
func (o *Orchestrator) channelFor(guildID string) (string, bool) {
	return o.settings.ChannelID(guildID)
}

// notice sends a short-lived informational message to the guild's music
// channel, best-effort.
func (o *Orchestrator) notice(guildID, text string) {
	channelID, ok := o.channelFor(guildID)
	if !ok {
		return
	}
	if err := o.messenger.Notice(context.Background(), channelID, text, o.config.App.NoticeTTL); err != nil {
		o.logger.Debug("Failed to send notice",
			zap.String("guildID", guildID),
			zap.Error(err))
	}
}

func (o *Orchestrator) recordRequest(kind string) {
	if o.metrics != nil {
		o.metrics.RecordRequest(kind)
	}
}

func (o *Orchestrator) recordResolution(status string) {
	if o.metrics != nil {
		o.metrics.RecordResolution(status)
	}
}

func (o *Orchestrator) recordSkip(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordSkip(outcome)
	}
}

func (o *Orchestrator) recordSmartPick(status string) {
	if o.metrics != nil {
		o.metrics.RecordSmartPick(status)
	}
}

func (o *Orchestrator) adjustQueued(delta int) {
	n := o.queuedTotal.Add(int64(delta))
	if o.metrics != nil {
		o.metrics.SetQueuedTracks(int(n))
	}
}
