// Package discord is the Discord frontend: gateway session, the music
// channel message listener with its prefix commands, the messaging adapter
// and the voice transport.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guilddj/internal/core"
	"guilddj/internal/flood"
)

const purgePageSize = 100

// Frontend owns the gateway session. Non-command messages in a guild's
// bound music channel are song requests; everything else is routed through
// the prefix command table.
type Frontend struct {
	session  *discordgo.Session
	settings core.SettingsStore
	prefix   string
	gate     *flood.Gate
	logger   *zap.Logger

	orch *core.Orchestrator
}

func NewFrontend(config *core.DiscordConfig, settings core.SettingsStore, logger *zap.Logger) (*Frontend, error) {
	session, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	return &Frontend{
		session:  session,
		settings: settings,
		prefix:   config.CommandPrefix,
		gate:     flood.NewGate(config.RequestsPerMinute),
		logger:   logger,
	}, nil
}

// Session exposes the gateway session for the voice dialer.
func (f *Frontend) Session() *discordgo.Session {
	return f.session
}

// SetOrchestrator wires the request sink. Must be called before Start.
func (f *Frontend) SetOrchestrator(orch *core.Orchestrator) {
	f.orch = orch
}

// Start opens the gateway connection and blocks until ctx is canceled.
func (f *Frontend) Start(ctx context.Context) error {
	f.session.AddHandler(f.onMessageCreate)

	if err := f.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	f.logger.Info("Discord gateway connected",
		zap.String("user", f.session.State.User.Username))

	<-ctx.Done()

	f.logger.Info("Closing Discord gateway")
	f.gate.Stop()
	return f.session.Close()
}

func (f *Frontend) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	if strings.HasPrefix(content, f.prefix) {
		f.handleCommand(m, strings.TrimPrefix(content, f.prefix))
		return
	}

	// song requests are only read from the bound music channel
	boundChannel, ok := f.settings.ChannelID(m.GuildID)
	if !ok || boundChannel != m.ChannelID {
		return
	}

	// the request text lives on in the queue, the message is noise
	if err := f.session.ChannelMessageDelete(m.ChannelID, m.ID); err != nil {
		f.logger.Debug("Failed to delete request message", zap.Error(err))
	}

	if !f.gate.Allow(m.GuildID, m.Author.ID) {
		f.logger.Info("Request rate limited",
			zap.String("guildID", m.GuildID),
			zap.String("userID", m.Author.ID))
		f.replyTransient(m.ChannelID, fmt.Sprintf("<@%s> easy there, try again in a minute.", m.Author.ID))
		return
	}

	f.orch.HandleRequest(m.GuildID, m.Author.ID, content)
}

func (f *Frontend) handleCommand(m *discordgo.MessageCreate, commandLine string) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])

	if command == "setup" {
		if err := f.orch.BindChannel(m.GuildID, m.ChannelID); err != nil {
			f.logger.Error("Channel bind failed",
				zap.String("guildID", m.GuildID),
				zap.Error(err))
			return
		}
		f.replyTransient(m.ChannelID, "This is now the music channel. Type a song name to queue it.")
		return
	}

	// every other command only works in the bound music channel
	boundChannel, ok := f.settings.ChannelID(m.GuildID)
	if !ok || boundChannel != m.ChannelID {
		return
	}

	switch command {
	case "skip":
		f.orch.RequestSkip(m.GuildID, m.Author.ID)
	case "smart":
		f.orch.ToggleSmartPlay(m.GuildID)
	case "loop":
		f.orch.ToggleLoop(m.GuildID)
	case "pause":
		f.orch.Pause(m.GuildID)
	case "resume":
		f.orch.Resume(m.GuildID)
	case "stop":
		f.orch.HardStop(m.GuildID)
	case "refresh":
		f.orch.SoftRefresh(m.GuildID)
	default:
		f.logger.Debug("Unknown command",
			zap.String("command", command),
			zap.String("guildID", m.GuildID))
	}

	if err := f.session.ChannelMessageDelete(m.ChannelID, m.ID); err != nil {
		f.logger.Debug("Failed to delete command message", zap.Error(err))
	}
}

func (f *Frontend) replyTransient(channelID, text string) {
	if err := f.Notice(context.Background(), channelID, text, 8*time.Second); err != nil {
		f.logger.Debug("Failed to send reply", zap.Error(err))
	}
}

// Send implements core.Messenger.
func (f *Frontend) Send(ctx context.Context, channelID string, e core.Embed) (string, error) {
	msg, err := f.session.ChannelMessageSendEmbed(channelID, toMessageEmbed(e), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send embed: %w", err)
	}
	return msg.ID, nil
}

// Edit implements core.Messenger.
func (f *Frontend) Edit(ctx context.Context, channelID, messageID string, e core.Embed) error {
	_, err := f.session.ChannelMessageEditEmbed(channelID, messageID, toMessageEmbed(e), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("edit embed: %w", err)
	}
	return nil
}

// Delete implements core.Messenger. Gone or forbidden messages are not an
// error.
func (f *Frontend) Delete(ctx context.Context, channelID, messageID string) error {
	err := f.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	if ignorableRESTError(err) {
		return nil
	}
	return err
}

// Notice implements core.Messenger: a plain message that deletes itself
// after ttl.
func (f *Frontend) Notice(ctx context.Context, channelID, text string, ttl time.Duration) error {
	msg, err := f.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send notice: %w", err)
	}

	if ttl > 0 {
		time.AfterFunc(ttl, func() {
			if err := f.session.ChannelMessageDelete(channelID, msg.ID); err != nil {
				f.logger.Debug("Failed to delete notice", zap.Error(err))
			}
		})
	}
	return nil
}

// PurgeBotMessages implements core.Messenger: scans up to limit recent
// messages and deletes the ones this bot sent, best-effort.
func (f *Frontend) PurgeBotMessages(ctx context.Context, channelID string, limit int) error {
	botID := ""
	if f.session.State.User != nil {
		botID = f.session.State.User.ID
	}
	if botID == "" {
		return nil
	}

	beforeID := ""
	scanned := 0
	for scanned < limit {
		pageSize := purgePageSize
		if remaining := limit - scanned; remaining < pageSize {
			pageSize = remaining
		}

		messages, err := f.session.ChannelMessages(channelID, pageSize, beforeID, "", "", discordgo.WithContext(ctx))
		if err != nil {
			if ignorableRESTError(err) {
				return nil
			}
			return fmt.Errorf("list messages: %w", err)
		}
		if len(messages) == 0 {
			return nil
		}

		for _, msg := range messages {
			if msg.Author != nil && msg.Author.ID == botID {
				if err := f.Delete(ctx, channelID, msg.ID); err != nil {
					f.logger.Debug("Failed to purge message",
						zap.String("messageID", msg.ID),
						zap.Error(err))
				}
			}
		}

		scanned += len(messages)
		beforeID = messages[len(messages)-1].ID
		if len(messages) < pageSize {
			return nil
		}
	}
	return nil
}

func toMessageEmbed(e core.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
	}
	if e.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if e.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	return embed
}

// ignorableRESTError reports whether err is a not-found or forbidden REST
// response, the expected outcomes of best-effort cleanup.
func ignorableRESTError(err error) bool {
	if err == nil {
		return false
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	code := restErr.Response.StatusCode
	return code == http.StatusNotFound || code == http.StatusForbidden
}
