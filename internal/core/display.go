package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// progressCells is the width of the now-playing progress bar.
const progressCells = 20

// FormatClock renders a duration as m:ss, or h:mm:ss from one hour up.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// ProgressBar renders elapsed/total as a fixed-width cell bar. Elapsed is
// clamped into [0, total].
func ProgressBar(elapsed, total time.Duration, cells int) string {
	if cells <= 0 {
		return ""
	}
	filled := 0
	if total > 0 {
		filled = int(int64(cells) * int64(elapsed) / int64(total))
	}
	if filled < 0 {
		filled = 0
	}
	if filled > cells {
		filled = cells
	}
	return strings.Repeat("█", filled) + strings.Repeat("─", cells-filled)
}

func nowPlayingEmbed(title, ownerID, thumbnail string, elapsed, total time.Duration, upNext string) Embed {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", title)
	if ownerID == SystemOwnerID {
		b.WriteString("Picked by Smart Play\n")
	} else {
		fmt.Fprintf(&b, "Requested by <@%s>\n", ownerID)
	}
	fmt.Fprintf(&b, "`%s` %s `%s`", FormatClock(elapsed), ProgressBar(elapsed, total, progressCells), FormatClock(total))

	footer := "Queue is empty"
	if upNext != "" {
		footer = "Up next: " + upNext
	}

	return Embed{
		Title:       "Now Playing",
		Description: b.String(),
		Thumbnail:   thumbnail,
		Footer:      footer,
	}
}

func queueEmbed(queue []QueueItem) Embed {
	if len(queue) == 0 {
		return Embed{Title: "Queue", Description: "```\n(empty)\n```"}
	}

	var b strings.Builder
	b.WriteString("```\n")
	for i, item := range queue {
		fmt.Fprintf(&b, "%2d. %s\n", i+1, item.Query)
	}
	b.WriteString("```")

	return Embed{
		Title:       "Queue",
		Description: b.String(),
		Footer:      fmt.Sprintf("%d queued", len(queue)),
	}
}

// updateNowPlaying projects the current track into the guild's now-playing
// message, editing in place when one already exists.
func (s *guildSession) updateNowPlaying(item QueueItem, c *Candidate) {
	st := s.state
	channelID, ok := s.orch.channelFor(s.guildID)
	if !ok {
		return
	}

	upNext := ""
	if len(st.queue) > 0 {
		upNext = st.queue[0].Query
	}
	elapsed := s.orch.now().Sub(st.songStartedAt)
	embed := nowPlayingEmbed(c.Title, item.OwnerID, c.Thumbnail, elapsed, st.songDuration, upNext)

	st.nowPlayingMsgID = s.upsertMessage(channelID, st.nowPlayingMsgID, embed)
}

// updateQueueDisplay projects the pending queue into the guild's queue
// message.
func (s *guildSession) updateQueueDisplay() {
	st := s.state
	channelID, ok := s.orch.channelFor(s.guildID)
	if !ok {
		return
	}
	st.queueMsgID = s.upsertMessage(channelID, st.queueMsgID, queueEmbed(st.queue))
}

// upsertMessage edits messageID with the embed, or sends a new message when
// none exists yet or the edit fails. Returns the live message ID, "" when
// nothing could be delivered.
func (s *guildSession) upsertMessage(channelID, messageID string, embed Embed) string {
	ctx := context.Background()
	if messageID != "" {
		if err := s.orch.messenger.Edit(ctx, channelID, messageID, embed); err == nil {
			return messageID
		}
		s.logger.Debug("Display edit failed, recreating message",
			zap.String("messageID", messageID))
	}

	newID, err := s.orch.messenger.Send(ctx, channelID, embed)
	if err != nil {
		s.logger.Debug("Display send failed", zap.Error(err))
		return ""
	}
	return newID
}
