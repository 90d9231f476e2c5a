package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// --- fakes shared by the core tests ---

type fakeResolver struct {
	mu      sync.Mutex
	results map[string][]Candidate
	err     error
	calls   []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{results: make(map[string][]Candidate)}
}

func (r *fakeResolver) Search(_ context.Context, query string) ([]Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, query)
	if r.err != nil {
		return nil, r.err
	}
	if res, ok := r.results[query]; ok {
		return res, nil
	}
	return []Candidate{{
		ID:        "id:" + query,
		StreamURL: "https://stream/" + query,
		Title:     query,
		Duration:  3 * time.Minute,
	}}, nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeResolver) lastCall() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return ""
	}
	return r.calls[len(r.calls)-1]
}

type fakeVoiceSession struct {
	mu           sync.Mutex
	plays        []string
	onComplete   func()
	playing      bool
	paused       bool
	disconnected bool
}

func (v *fakeVoiceSession) Play(streamURL string, onComplete func()) {
	v.mu.Lock()
	v.plays = append(v.plays, streamURL)
	v.onComplete = onComplete
	v.playing = true
	v.paused = false
	v.mu.Unlock()
}

func (v *fakeVoiceSession) Stop() {
	v.mu.Lock()
	cb := v.onComplete
	wasPlaying := v.playing
	v.playing = false
	v.paused = false
	v.onComplete = nil
	v.mu.Unlock()
	if wasPlaying && cb != nil {
		cb()
	}
}

// finish simulates a stream reaching its natural end.
func (v *fakeVoiceSession) finish() {
	v.mu.Lock()
	cb := v.onComplete
	v.playing = false
	v.paused = false
	v.onComplete = nil
	v.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (v *fakeVoiceSession) Pause() {
	v.mu.Lock()
	if v.playing {
		v.paused = true
	}
	v.mu.Unlock()
}

func (v *fakeVoiceSession) Resume() {
	v.mu.Lock()
	v.paused = false
	v.mu.Unlock()
}

func (v *fakeVoiceSession) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing && !v.paused
}

func (v *fakeVoiceSession) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing && v.paused
}

func (v *fakeVoiceSession) Disconnect() {
	v.Stop()
	v.mu.Lock()
	v.disconnected = true
	v.mu.Unlock()
}

func (v *fakeVoiceSession) playCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.plays)
}

func (v *fakeVoiceSession) lastPlay() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.plays) == 0 {
		return ""
	}
	return v.plays[len(v.plays)-1]
}

type fakeDialer struct {
	mu        sync.Mutex
	channelID string
	session   *fakeVoiceSession
	joinErr   error
	joins     int
}

func (d *fakeDialer) UserChannel(_, _ string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channelID, d.channelID != ""
}

func (d *fakeDialer) Join(_ context.Context, _, _ string) (VoiceSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.joins++
	if d.joinErr != nil {
		return nil, d.joinErr
	}
	return d.session, nil
}

type sentMessage struct {
	id    string
	embed Embed
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	edits   map[string]Embed
	deleted []string
	notices []string
	purges  int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{edits: make(map[string]Embed)}
}

func (m *fakeMessenger) Send(_ context.Context, _ string, e Embed) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("msg-%d", m.nextID)
	m.sent = append(m.sent, sentMessage{id: id, embed: e})
	return id, nil
}

func (m *fakeMessenger) Edit(_ context.Context, _, messageID string, e Embed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits[messageID] = e
	return nil
}

func (m *fakeMessenger) Delete(_ context.Context, _, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *fakeMessenger) Notice(_ context.Context, _, text string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, text)
	return nil
}

func (m *fakeMessenger) PurgeBotMessages(_ context.Context, _ string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purges++
	return nil
}

func (m *fakeMessenger) hasNotice(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notices {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

func (m *fakeMessenger) wasDeleted(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.deleted {
		if id == messageID {
			return true
		}
	}
	return false
}

type playlistExpansion struct {
	queries []string
	artists []string
}

type fakeExpander struct {
	playlists   map[string]playlistExpansion
	tracks      map[string]string
	playlistErr error
	trackErr    error
}

func newFakeExpander() *fakeExpander {
	return &fakeExpander{
		playlists: make(map[string]playlistExpansion),
		tracks:    make(map[string]string),
	}
}

func (e *fakeExpander) IsPlaylistLink(url string) bool {
	return strings.Contains(url, "/playlist/")
}

func (e *fakeExpander) IsTrackLink(url string) bool {
	return strings.Contains(url, "/track/")
}

func (e *fakeExpander) ExpandPlaylist(_ context.Context, url string) ([]string, []string, error) {
	if e.playlistErr != nil {
		return nil, nil, e.playlistErr
	}
	exp := e.playlists[url]
	return exp.queries, exp.artists, nil
}

func (e *fakeExpander) TrackQuery(_ context.Context, url string) (string, error) {
	if e.trackErr != nil {
		return "", e.trackErr
	}
	return e.tracks[url], nil
}

type fakeSettings struct {
	mu       sync.Mutex
	channels map[string]string
}

func (s *fakeSettings) ChannelID(guildID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.channels[guildID]
	return id, ok
}

func (s *fakeSettings) SetChannelID(guildID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[guildID] = channelID
	return nil
}

type mapPlayed struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newMapPlayed() *mapPlayed {
	return &mapPlayed{ids: make(map[string]struct{})}
}

func (p *mapPlayed) Has(trackID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.ids[trackID]
	return ok
}

func (p *mapPlayed) Add(trackID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids[trackID] = struct{}{}
}

func (p *mapPlayed) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

func (p *mapPlayed) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = make(map[string]struct{})
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{counts: make(map[string]int)}
}

func (m *fakeMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *fakeMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *fakeMetrics) RecordRequest(kind string)      { m.inc("request:" + kind) }
func (m *fakeMetrics) RecordResolution(status string) { m.inc("resolution:" + status) }
func (m *fakeMetrics) RecordSkip(outcome string)      { m.inc("skip:" + outcome) }
func (m *fakeMetrics) RecordSmartPick(status string)  { m.inc("smartpick:" + status) }
func (m *fakeMetrics) SetActiveGuilds(int)            {}
func (m *fakeMetrics) SetQueuedTracks(int)            {}

// --- test harness ---

type testEnv struct {
	orch      *Orchestrator
	config    *Config
	resolver  *fakeResolver
	dialer    *fakeDialer
	voice     *fakeVoiceSession
	messenger *fakeMessenger
	expander  *fakeExpander
	settings  *fakeSettings
	metrics   *fakeMetrics
}

const (
	testGuild   = "guild-1"
	testChannel = "music-1"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	config := DefaultConfig()
	voice := &fakeVoiceSession{}
	env := &testEnv{
		config:    config,
		resolver:  newFakeResolver(),
		dialer:    &fakeDialer{channelID: "voice-1", session: voice},
		voice:     voice,
		messenger: newFakeMessenger(),
		expander:  newFakeExpander(),
		settings:  &fakeSettings{channels: map[string]string{testGuild: testChannel}},
		metrics:   newFakeMetrics(),
	}

	picker := NewSmartPicker(nil, &config.App, zap.NewNop())
	env.orch = NewOrchestrator(config, env.resolver, nil, env.expander, env.dialer,
		env.messenger, env.settings, picker, env.metrics,
		func() PlayedStore { return newMapPlayed() }, zap.NewNop())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = env.orch.Stop(ctx)
	})
	return env
}

// onSession runs fn on the guild's session goroutine and waits for it.
func (env *testEnv) onSession(t *testing.T, guildID string, fn func(s *guildSession)) {
	t.Helper()
	s := env.orch.session(guildID)
	done := make(chan struct{})
	s.post(func() {
		fn(s)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session goroutine did not run posted function")
	}
}

func waitFor(t *testing.T, message string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", message)
}

// --- orchestrator-level tests ---

func TestHandleRequestStartsPlayback(t *testing.T) {
	env := newTestEnv(t)

	env.orch.HandleRequest(testGuild, "user-1", "Adele - Hello")

	waitFor(t, "stream to start", func() bool { return env.voice.playCount() == 1 })
	if got := env.voice.lastPlay(); got != "https://stream/Adele - Hello" {
		t.Errorf("Expected stream URL %q, got %q", "https://stream/Adele - Hello", got)
	}
	if env.metrics.count("request:track") != 1 {
		t.Errorf("Expected 1 track request recorded, got %d", env.metrics.count("request:track"))
	}
	if env.metrics.count("resolution:ok") != 1 {
		t.Errorf("Expected 1 ok resolution recorded, got %d", env.metrics.count("resolution:ok"))
	}

	env.onSession(t, testGuild, func(s *guildSession) {
		if s.state.driver != StateStreaming {
			t.Errorf("Expected driver state %v, got %v", StateStreaming, s.state.driver)
		}
		if s.state.current == nil || s.state.current.OwnerID != "user-1" {
			t.Error("Expected current track owned by user-1")
		}
	})
}

func TestHandleRequestIgnoresBlankText(t *testing.T) {
	env := newTestEnv(t)

	env.orch.HandleRequest(testGuild, "user-1", "   ")

	env.orch.sessionsMutex.RLock()
	n := len(env.orch.sessions)
	env.orch.sessionsMutex.RUnlock()
	if n != 0 {
		t.Errorf("Expected no sessions for blank request, got %d", n)
	}
}

func TestHandleRequestExpandsPlaylistLink(t *testing.T) {
	env := newTestEnv(t)
	env.expander.playlists["https://cat/playlist/1"] = playlistExpansion{
		queries: []string{"Adele - Hello", "Bjork - Joga"},
		artists: []string{"Adele", "Bjork"},
	}

	env.orch.HandleRequest(testGuild, "user-1", "https://cat/playlist/1")

	waitFor(t, "first playlist track to stream", func() bool { return env.voice.playCount() == 1 })
	if !env.messenger.hasNotice("Queued 2 tracks") {
		t.Error("Expected playlist queued notice")
	}
	if env.metrics.count("request:playlist") != 1 {
		t.Errorf("Expected 1 playlist request recorded, got %d", env.metrics.count("request:playlist"))
	}

	env.onSession(t, testGuild, func(s *guildSession) {
		if len(s.state.queue) != 1 {
			t.Errorf("Expected 1 track left in queue, got %d", len(s.state.queue))
		}
		if len(s.state.seeds) != 2 {
			t.Errorf("Expected 2 seed artists, got %d", len(s.state.seeds))
		}
	})
}

func TestHandleRequestTruncatesLongPlaylist(t *testing.T) {
	env := newTestEnv(t)
	env.config.App.PlaylistExpandLimit = 2
	env.expander.playlists["https://cat/playlist/big"] = playlistExpansion{
		queries: []string{"a - 1", "b - 2", "c - 3", "d - 4"},
	}

	env.orch.HandleRequest(testGuild, "user-1", "https://cat/playlist/big")

	waitFor(t, "truncated playlist notice", func() bool { return env.messenger.hasNotice("Queued 2 tracks") })
}

func TestHandleRequestPlaylistFailureNotifies(t *testing.T) {
	env := newTestEnv(t)
	env.expander.playlistErr = fmt.Errorf("upstream down")

	env.orch.HandleRequest(testGuild, "user-1", "https://cat/playlist/1")

	if !env.messenger.hasNotice("Couldn't read that playlist") {
		t.Error("Expected playlist failure notice")
	}
	if env.voice.playCount() != 0 {
		t.Error("Expected no playback after failed expansion")
	}
}

func TestHandleRequestConvertsTrackLink(t *testing.T) {
	env := newTestEnv(t)
	env.expander.tracks["https://cat/track/1"] = "Adele - Hello"

	env.orch.HandleRequest(testGuild, "user-1", "https://cat/track/1")

	waitFor(t, "resolved track to stream", func() bool { return env.voice.playCount() == 1 })
	if got := env.resolver.lastCall(); got != "Adele - Hello" {
		t.Errorf("Expected resolver query %q, got %q", "Adele - Hello", got)
	}
}

func TestHandleRequestTrackLinkFailureNotifies(t *testing.T) {
	env := newTestEnv(t)
	env.expander.trackErr = fmt.Errorf("upstream down")

	env.orch.HandleRequest(testGuild, "user-1", "https://cat/track/1")

	if !env.messenger.hasNotice("Couldn't read that track link") {
		t.Error("Expected track link failure notice")
	}
	if env.resolver.callCount() != 0 {
		t.Error("Expected no resolver call after failed link lookup")
	}
}

func TestBindChannel(t *testing.T) {
	env := newTestEnv(t)

	if err := env.orch.BindChannel("guild-2", "chan-9"); err != nil {
		t.Fatalf("BindChannel() error = %v", err)
	}
	if id, ok := env.settings.ChannelID("guild-2"); !ok || id != "chan-9" {
		t.Errorf("Expected bound channel chan-9, got %q (ok=%v)", id, ok)
	}
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t)
	env.orch.HandleRequest(testGuild, "user-1", "Adele - Hello")
	waitFor(t, "stream to start", func() bool { return env.voice.playCount() == 1 })

	env.orch.Pause(testGuild)
	waitFor(t, "stream to pause", func() bool { return env.voice.Paused() })

	env.orch.Resume(testGuild)
	waitFor(t, "stream to resume", func() bool { return env.voice.Playing() })
}

func TestStopDisconnectsSessions(t *testing.T) {
	env := newTestEnv(t)
	env.orch.HandleRequest(testGuild, "user-1", "Adele - Hello")
	waitFor(t, "stream to start", func() bool { return env.voice.playCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.orch.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	env.voice.mu.Lock()
	disconnected := env.voice.disconnected
	env.voice.mu.Unlock()
	if !disconnected {
		t.Error("Expected voice session disconnected on shutdown")
	}

	env.orch.sessionsMutex.RLock()
	n := len(env.orch.sessions)
	env.orch.sessionsMutex.RUnlock()
	if n != 0 {
		t.Errorf("Expected no sessions after Stop, got %d", n)
	}
}
