package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Skip protocol. A track's owner (or anyone, for Smart Play tracks) skips
// immediately. Anyone else opens a vote that only the track owner can
// approve; one vote per guild, later requesters are ignored while it is
// pending. Votes die with the track they were raised against.

func (s *guildSession) requestSkip(requesterID string) {
	st := s.state

	if st.pendingSkip != nil && requesterID == st.pendingSkip.SongOwnerID {
		s.logger.Info("Skip vote approved by track owner",
			zap.String("ownerID", requesterID),
			zap.String("requesterID", st.pendingSkip.RequesterID))
		s.orch.recordSkip("approved")
		s.clearSkipRequests()
		s.finalizeSkip()
		return
	}

	if st.current == nil {
		return
	}

	ownerID := st.current.OwnerID
	if ownerID == SystemOwnerID || requesterID == ownerID {
		s.logger.Info("Immediate skip",
			zap.String("requesterID", requesterID),
			zap.Bool("systemOwned", ownerID == SystemOwnerID))
		s.orch.recordSkip("immediate")
		s.clearSkipRequests()
		s.finalizeSkip()
		return
	}

	if st.pendingSkip != nil {
		// someone else already has a vote open against this track
		s.orch.recordSkip("ignored")
		return
	}

	st.pendingSkip = &SkipVote{SongOwnerID: ownerID, RequesterID: requesterID}
	s.orch.recordSkip("vote_opened")
	s.logger.Info("Skip vote opened",
		zap.String("requesterID", requesterID),
		zap.String("ownerID", ownerID))

	channelID, ok := s.orch.channelFor(s.guildID)
	if !ok {
		return
	}
	text := fmt.Sprintf("<@%s> wants to skip this track. <@%s>, send skip again to approve.",
		requesterID, ownerID)
	msgID, err := s.orch.messenger.Send(context.Background(), channelID, Embed{Description: text})
	if err != nil {
		s.logger.Debug("Failed to announce skip vote", zap.Error(err))
		return
	}
	st.skipNoticeIDs = append(st.skipNoticeIDs, msgID)
}

// finalizeSkip force-stops the stream; the transport completion callback
// then drives the normal advance path.
func (s *guildSession) finalizeSkip() {
	st := s.state
	if st.voice != nil && st.voice.Playing() {
		st.voice.Stop()
	}
}

// clearSkipRequests drops the pending vote and deletes its announcement
// messages, best-effort.
func (s *guildSession) clearSkipRequests() {
	st := s.state
	st.pendingSkip = nil
	if len(st.skipNoticeIDs) == 0 {
		return
	}

	channelID, ok := s.orch.channelFor(s.guildID)
	if ok {
		for _, msgID := range st.skipNoticeIDs {
			if err := s.orch.messenger.Delete(context.Background(), channelID, msgID); err != nil {
				s.logger.Debug("Failed to delete skip notice",
					zap.String("messageID", msgID),
					zap.Error(err))
			}
		}
	}
	st.skipNoticeIDs = nil
}
