package discord

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"layeh.com/gopus"

	"guilddj/internal/core"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz
)

// Dialer locates users in voice channels and opens voice sessions over the
// gateway connection.
type Dialer struct {
	session *discordgo.Session
	logger  *zap.Logger
}

func NewDialer(session *discordgo.Session, logger *zap.Logger) *Dialer {
	return &Dialer{session: session, logger: logger}
}

// UserChannel implements core.VoiceDialer.
func (d *Dialer) UserChannel(guildID, userID string) (string, bool) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		d.logger.Debug("Guild not in state cache",
			zap.String("guildID", guildID),
			zap.Error(err))
		return "", false
	}

	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, true
		}
	}
	return "", false
}

// Join implements core.VoiceDialer.
func (d *Dialer) Join(ctx context.Context, guildID, channelID string) (core.VoiceSession, error) {
	type joinResult struct {
		vc  *discordgo.VoiceConnection
		err error
	}

	results := make(chan joinResult, 1)
	go func() {
		vc, err := d.session.ChannelVoiceJoin(guildID, channelID, false, true)
		results <- joinResult{vc: vc, err: err}
	}()

	select {
	case <-ctx.Done():
		// leave a late-arriving connection in a clean state
		go func() {
			if r := <-results; r.err == nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-results:
		if r.err != nil {
			return nil, fmt.Errorf("voice join: %w", r.err)
		}
		d.logger.Info("Joined voice channel",
			zap.String("guildID", guildID),
			zap.String("channelID", channelID))
		return newVoiceSession(r.vc, d.logger), nil
	}
}

// activeStream is one Play invocation's lifecycle handle.
type activeStream struct {
	stop chan struct{}
	once sync.Once
}

func (a *activeStream) halt() {
	a.once.Do(func() { close(a.stop) })
}

// voiceSession streams ffmpeg-decoded PCM as opus frames into one guild's
// voice connection.
type voiceSession struct {
	vc     *discordgo.VoiceConnection
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	playing bool
	paused  bool
	current *activeStream
}

func newVoiceSession(vc *discordgo.VoiceConnection, logger *zap.Logger) *voiceSession {
	s := &voiceSession{vc: vc, logger: logger}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Play implements core.VoiceSession. Any stream still running is halted
// first; its completion callback fires as usual.
func (s *voiceSession) Play(streamURL string, onComplete func()) {
	stream := &activeStream{stop: make(chan struct{})}

	s.mu.Lock()
	if s.current != nil {
		s.current.halt()
	}
	s.current = stream
	s.playing = true
	s.paused = false
	s.mu.Unlock()
	s.cond.Broadcast()

	go func() {
		err := s.streamLoop(streamURL, stream)
		if err != nil {
			s.logger.Warn("Stream ended with error",
				zap.String("streamURL", streamURL),
				zap.Error(err))
		}

		s.mu.Lock()
		if s.current == stream {
			s.current = nil
			s.playing = false
			s.paused = false
		}
		s.mu.Unlock()

		onComplete()
	}()
}

func (s *voiceSession) streamLoop(streamURL string, stream *activeStream) error {
	cmd := exec.Command("ffmpeg",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", streamURL,
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}

	_ = s.vc.Speaking(true)
	defer func() { _ = s.vc.Speaking(false) }()

	pcmBuf := make([]byte, frameSize*channels*2)
	intBuf := make([]int16, frameSize*channels)

	for {
		select {
		case <-stream.stop:
			return nil
		default:
		}

		if halted := s.waitWhilePaused(stream); halted {
			return nil
		}

		if _, err := io.ReadFull(out, pcmBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read pcm: %w", err)
		}

		for i := range intBuf {
			intBuf[i] = int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
		}

		frame, err := encoder.Encode(intBuf, frameSize, len(pcmBuf))
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}

		select {
		case <-stream.stop:
			return nil
		case s.vc.OpusSend <- frame:
		}
	}
}

// waitWhilePaused blocks the streamer goroutine while the session is
// paused. Returns true if the stream was halted while waiting.
func (s *voiceSession) waitWhilePaused(stream *activeStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.paused {
		select {
		case <-stream.stop:
			return true
		default:
		}
		s.cond.Wait()
	}
	select {
	case <-stream.stop:
		return true
	default:
		return false
	}
}

// Stop implements core.VoiceSession. Safe to call while idle.
func (s *voiceSession) Stop() {
	s.mu.Lock()
	stream := s.current
	s.paused = false
	s.mu.Unlock()
	s.cond.Broadcast()

	if stream != nil {
		stream.halt()
	}
}

func (s *voiceSession) Pause() {
	s.mu.Lock()
	if s.playing {
		s.paused = true
	}
	s.mu.Unlock()
}

func (s *voiceSession) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *voiceSession) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && !s.paused
}

func (s *voiceSession) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && s.paused
}

func (s *voiceSession) Disconnect() {
	s.Stop()
	if err := s.vc.Disconnect(); err != nil {
		s.logger.Debug("Voice disconnect failed", zap.Error(err))
	}
}
