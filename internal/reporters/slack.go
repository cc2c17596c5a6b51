package reporters

import (
	"context"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/buildyard/internal/buildsets"
	"github.com/zulandar/buildyard/internal/config"
	"github.com/zulandar/buildyard/internal/results"
)

// Attachment colors for buildset outcomes.
const (
	colorSuccess = "#36a64f"
	colorWarning = "#f2c744"
	colorFailure = "#d50200"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackReporter posts a completion attachment to a Slack channel.
type SlackReporter struct {
	client  slackClient
	channel string
}

// NewSlackReporter creates a Slack reporter. A nil client uses the real
// Slack API with the configured token.
func NewSlackReporter(cfg config.SlackConfig, client slackClient) (*SlackReporter, error) {
	if client == nil {
		if cfg.Token == "" {
			return nil, fmt.Errorf("reporters: slack token is required")
		}
		client = slackapi.New(cfg.Token)
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("reporters: slack channel is required")
	}
	return &SlackReporter{client: client, channel: cfg.Channel}, nil
}

func (r *SlackReporter) Name() string { return "slack" }

// BuildsetComplete posts the buildset outcome as a colored attachment.
func (r *SlackReporter) BuildsetComplete(ctx context.Context, bs *buildsets.Buildset) error {
	att := slackapi.Attachment{
		Title:    summaryLine(bs),
		Color:    colorFor(resultCode(bs)),
		Fallback: summaryLine(bs),
	}
	if branches := stampBranches(bs); branches != "" {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: "Branches", Value: branches, Short: true,
		})
	}
	if bs.Scheduler != "" {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: "Scheduler", Value: bs.Scheduler, Short: true,
		})
	}

	_, _, err := r.client.PostMessage(r.channel, slackapi.MsgOptionAttachments(att))
	if err != nil {
		return fmt.Errorf("reporters: slack post: %w", err)
	}
	return nil
}

// colorFor maps a result code to an attachment color.
func colorFor(code int) string {
	switch code {
	case results.Success, results.Skipped:
		return colorSuccess
	case results.Warnings:
		return colorWarning
	default:
		return colorFailure
	}
}

// stampBranches joins the distinct branches of the buildset's sourcestamps.
func stampBranches(bs *buildsets.Buildset) string {
	seen := make(map[string]bool)
	var branches []string
	for _, ss := range bs.SourceStamps {
		if ss.Branch == "" || seen[ss.Branch] {
			continue
		}
		seen[ss.Branch] = true
		branches = append(branches, ss.Branch)
	}
	return strings.Join(branches, ", ")
}
