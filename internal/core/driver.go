package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Playback driver: the per-guild state machine that pulls items off the
// queue, resolves them to a playable stream and feeds the voice session.
//
// Resolution and voice connect run on worker goroutines; their continuations
// are posted back to the session and validated against the generation
// counter captured when the step started. Hard stop, soft refresh and every
// track transition bump the generation, so continuations and transport
// completion callbacks belonging to an abandoned playback silently no-op.

func (s *guildSession) enqueue(item QueueItem, requesterID string) {
	st := s.state
	st.lastRequesterID = requesterID
	st.queue = append(st.queue, item)
	st.feedSeed(item.Query)
	s.orch.adjustQueued(1)

	s.logger.Debug("Enqueued request",
		zap.String("query", item.Query),
		zap.String("ownerID", item.OwnerID),
		zap.Int("queueLen", len(st.queue)))

	if st.current == nil {
		s.advance()
		return
	}
	s.updateQueueDisplay()
}

func (s *guildSession) enqueuePlaylist(queries, artists []string, requesterID string) {
	st := s.state
	st.lastRequesterID = requesterID
	for _, q := range queries {
		st.queue = append(st.queue, QueueItem{Query: q, OwnerID: requesterID})
		st.feedSeed(q)
	}
	s.orch.adjustQueued(len(queries))

	for _, a := range artists {
		st.addSeed(strings.TrimSpace(a))
	}

	s.logger.Info("Enqueued playlist",
		zap.Int("tracks", len(queries)),
		zap.Int("seedArtists", len(artists)))
	s.orch.notice(s.guildID, fmt.Sprintf("Queued %d tracks from the playlist.", len(queries)))

	if st.current == nil {
		s.advance()
		return
	}
	s.updateQueueDisplay()
}

func (s *guildSession) toggleSmartPlay() {
	st := s.state
	st.autoPlay = !st.autoPlay
	st.failCount = 0
	st.seeds = make(map[string]string)

	if st.autoPlay {
		// reseed from everything currently known to the guild
		if st.current != nil {
			st.feedSeed(st.current.Query)
		}
		for _, item := range st.queue {
			st.feedSeed(item.Query)
		}
		s.orch.notice(s.guildID, "Smart Play on.")
	} else {
		s.orch.notice(s.guildID, "Smart Play off.")
	}

	s.logger.Info("Smart Play toggled",
		zap.Bool("enabled", st.autoPlay),
		zap.Int("seeds", len(st.seeds)))
}

func (s *guildSession) toggleLoop() {
	st := s.state
	st.loop = !st.loop
	if st.loop {
		s.orch.notice(s.guildID, "Loop on.")
	} else {
		s.orch.notice(s.guildID, "Loop off.")
	}
	s.logger.Info("Loop toggled", zap.Bool("enabled", st.loop))
}

// advance moves the driver to the next track: pop the queue head (or ask
// Smart Play for one), clear skip state, force-stop any lingering stream and
// start the connect/resolve pipeline.
func (s *guildSession) advance() {
	st := s.state
	s.firstRunCleanup()

	item, ok := st.pop()
	if ok {
		s.orch.adjustQueued(-1)
	} else if st.autoPlay {
		if query, picked := s.smartPick(); picked {
			item = QueueItem{Query: query, OwnerID: SystemOwnerID}
			ok = true
		}
	}
	if !ok {
		st.current = nil
		st.driver = StateIdle
		return
	}

	st.current = &item
	s.clearSkipRequests()

	// Abandon whatever playback epoch was running. A still-active stream is
	// force-stopped; its completion callback arrives with a stale generation
	// and is dropped.
	st.generation++
	if st.voice != nil && (st.voice.Playing() || st.voice.Paused()) {
		st.voice.Stop()
	}

	if st.voice == nil {
		s.connectVoice(item)
		return
	}
	s.startResolve(item)
}

// firstRunCleanup purges leftover bot messages the first time a guild plays
// anything after startup or a hard stop.
func (s *guildSession) firstRunCleanup() {
	if s.state.firstRunDone {
		return
	}
	s.state.firstRunDone = true
	s.purgeChannel()
}

func (s *guildSession) purgeChannel() {
	st := s.state
	channelID, ok := s.orch.channelFor(s.guildID)
	if !ok {
		return
	}
	if err := s.orch.messenger.PurgeBotMessages(
		context.Background(), channelID, s.orch.config.App.HistoryPurgeLimit); err != nil {
		s.logger.Debug("Channel purge failed", zap.Error(err))
	}
	st.nowPlayingMsgID = ""
	st.queueMsgID = ""
}

func (s *guildSession) smartPick() (string, bool) {
	if s.orch.picker == nil {
		return "", false
	}
	query, ok := s.orch.picker.Pick(context.Background(), s.state.seedList())
	if !ok {
		s.orch.recordSmartPick("empty")
		return "", false
	}
	s.orch.recordSmartPick("picked")
	s.logger.Info("Smart Play selected next track", zap.String("query", query))
	return query, true
}

// connectVoice joins the voice channel of the last requesting user, then
// continues with resolution. The request is silently dropped when that user
// is not in a voice channel or the connect times out.
func (s *guildSession) connectVoice(item QueueItem) {
	st := s.state
	st.driver = StateResolving

	channelID, ok := s.orch.voice.UserChannel(s.guildID, st.lastRequesterID)
	if !ok {
		s.logger.Debug("Requester not in a voice channel",
			zap.String("userID", st.lastRequesterID))
		st.current = nil
		st.driver = StateIdle
		return
	}

	gen := st.generation
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.orch.config.App.VoiceConnectTimeout)
		defer cancel()
		vs, err := s.orch.voice.Join(ctx, s.guildID, channelID)

		s.post(func() {
			if gen != st.generation {
				if err == nil {
					vs.Disconnect()
				}
				return
			}
			if err != nil {
				s.logger.Warn("Voice connect failed",
					zap.String("channelID", channelID),
					zap.Error(err))
				st.current = nil
				st.driver = StateIdle
				return
			}
			st.voice = vs
			s.startResolve(item)
		})
	}()
}

func (s *guildSession) startResolve(item QueueItem) {
	st := s.state
	st.driver = StateResolving
	gen := st.generation

	go func() {
		candidates, err := s.orch.resolver.Search(context.Background(), item.Query)
		s.post(func() { s.finishResolve(gen, item, candidates, err) })
	}()
}

func (s *guildSession) finishResolve(gen uint64, item QueueItem, candidates []Candidate, err error) {
	st := s.state
	if gen != st.generation {
		s.logger.Debug("Dropping stale resolution", zap.String("query", item.Query))
		return
	}

	if err != nil {
		s.logger.Warn("Track resolution failed",
			zap.String("query", item.Query),
			zap.Error(err))
		s.orch.recordResolution("failed")
		s.resolutionFailed(item)
		return
	}
	if len(candidates) == 0 {
		s.orch.recordResolution("empty")
		s.resolutionFailed(item)
		return
	}

	// first candidate not played this session wins; candidates without an
	// ID (opaque direct links) bypass dedup entirely, and looped re-insertions
	// are exempt since their track has necessarily played already
	var chosen *Candidate
	for i := range candidates {
		c := &candidates[i]
		if !item.Looped && c.ID != "" && st.played.Has(c.ID) {
			continue
		}
		chosen = c
		break
	}
	if chosen == nil {
		s.orch.recordResolution("all_played")
		s.resolutionFailed(item)
		return
	}

	s.orch.recordResolution("ok")
	if chosen.ID != "" {
		st.played.Add(chosen.ID)
	}
	st.failCount = 0
	s.startStream(item, chosen)
}

// resolutionFailed applies the failure policy: user requests are dropped
// silently, Smart Play picks burn the failure budget and eventually turn
// auto-play off.
func (s *guildSession) resolutionFailed(item QueueItem) {
	st := s.state
	if item.SystemOwned() {
		st.failCount++
		if st.failCount >= s.orch.config.App.SmartPlayMaxFailures {
			st.autoPlay = false
			st.failCount = 0
			s.logger.Warn("Disabling Smart Play after repeated failed picks")
			s.orch.notice(s.guildID, "Smart Play turned itself off after too many failed picks.")
			st.current = nil
			st.driver = StateIdle
			return
		}
	} else {
		s.logger.Debug("Dropping unresolvable request", zap.String("query", item.Query))
	}
	s.advance()
}

func (s *guildSession) startStream(item QueueItem, c *Candidate) {
	st := s.state

	duration := c.Duration
	if duration <= 0 {
		duration = s.orch.config.App.DefaultTrackDuration
	}
	st.songStartedAt = s.orch.now()
	st.songDuration = duration
	st.driver = StateStreaming

	gen := st.generation
	query, ownerID := item.Query, item.OwnerID
	st.voice.Play(c.StreamURL, func() {
		s.post(func() { s.onTrackComplete(gen, query, ownerID) })
	})

	s.logger.Info("Streaming track",
		zap.String("title", c.Title),
		zap.String("trackID", c.ID),
		zap.Duration("duration", duration))

	s.updateNowPlaying(item, c)
	s.updateQueueDisplay()
}

// onTrackComplete handles the transport's end-of-stream callback for the
// playback epoch identified by gen.
func (s *guildSession) onTrackComplete(gen uint64, query, ownerID string) {
	st := s.state
	if gen != st.generation {
		s.logger.Debug("Dropping stale completion", zap.String("query", query))
		return
	}

	s.clearSkipRequests()

	if st.loop && ownerID != SystemOwnerID {
		st.pushFront(QueueItem{Query: query, OwnerID: ownerID, Looped: true})
		s.orch.adjustQueued(1)
	}

	s.advance()
}

// hardStop resets the guild to factory state and leaves the voice channel.
func (s *guildSession) hardStop() {
	st := s.state
	st.generation++

	if st.voice != nil {
		st.voice.Disconnect()
		st.voice = nil
	}
	s.purgeChannel()

	s.orch.adjustQueued(-len(st.queue))
	st.queue = nil
	st.current = nil
	st.pendingSkip = nil
	st.skipNoticeIDs = nil
	st.autoPlay = false
	st.failCount = 0
	st.seeds = make(map[string]string)
	st.played.Clear()
	st.firstRunDone = false
	st.driver = StateIdle

	s.logger.Info("Hard stop completed")
}

// softRefresh stops playback and clears state but keeps the voice
// connection for immediate reuse.
func (s *guildSession) softRefresh() {
	st := s.state
	st.generation++

	if st.voice != nil && (st.voice.Playing() || st.voice.Paused()) {
		st.voice.Stop()
	}
	s.purgeChannel()

	s.orch.adjustQueued(-len(st.queue))
	st.queue = nil
	st.current = nil
	st.pendingSkip = nil
	st.skipNoticeIDs = nil
	st.autoPlay = false
	st.failCount = 0
	st.seeds = make(map[string]string)
	st.played.Clear()
	st.driver = StateIdle

	s.logger.Info("Soft refresh completed")
}
