package reporters

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/buildyard/internal/buildsets"
	"github.com/zulandar/buildyard/internal/config"
	"github.com/zulandar/buildyard/internal/results"
)

// Embed colors for buildset outcomes.
const (
	embedSuccess = 0x36a64f
	embedWarning = 0xf2c744
	embedFailure = 0xd50200
)

// session abstracts the discordgo.Session methods we use, enabling test
// mocks.
type session interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordReporter posts a completion embed to a Discord channel.
type DiscordReporter struct {
	sess      session
	channelID string
}

// NewDiscordReporter creates a Discord reporter. A nil session uses a real
// discordgo session with the configured token.
func NewDiscordReporter(cfg config.DiscordConfig, sess session) (*DiscordReporter, error) {
	if sess == nil {
		if cfg.Token == "" {
			return nil, fmt.Errorf("reporters: discord token is required")
		}
		dg, err := discordgo.New("Bot " + cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("reporters: discord session: %w", err)
		}
		sess = dg
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("reporters: discord channel_id is required")
	}
	return &DiscordReporter{sess: sess, channelID: cfg.ChannelID}, nil
}

func (r *DiscordReporter) Name() string { return "discord" }

// BuildsetComplete posts the buildset outcome as a colored embed.
func (r *DiscordReporter) BuildsetComplete(ctx context.Context, bs *buildsets.Buildset) error {
	embed := &discordgo.MessageEmbed{
		Title: summaryLine(bs),
		Color: embedColorFor(resultCode(bs)),
	}
	if branches := stampBranches(bs); branches != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Branches", Value: branches, Inline: true,
		})
	}
	if bs.Scheduler != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Scheduler", Value: bs.Scheduler, Inline: true,
		})
	}

	if _, err := r.sess.ChannelMessageSendEmbed(r.channelID, embed); err != nil {
		return fmt.Errorf("reporters: discord send: %w", err)
	}
	return nil
}

// embedColorFor maps a result code to an embed color.
func embedColorFor(code int) int {
	switch code {
	case results.Success, results.Skipped:
		return embedSuccess
	case results.Warnings:
		return embedWarning
	default:
		return embedFailure
	}
}
