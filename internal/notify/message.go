package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var levelEmoji = map[Level]string{
	LevelCritical: ":rotating_light:",
	LevelHigh:     ":warning:",
	LevelInfo:     ":information_source:",
}

// buildMessage creates Block Kit blocks for a system Notification.
func buildMessage(n Notification) []goslack.Block {
	emoji := levelEmoji[n.Level]
	if emoji == "" {
		emoji = ":bell:"
	}

	header := fmt.Sprintf("%s *[%s/%s]* %s", emoji, n.Category, n.Level, n.Title)
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}
	if n.Detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncate(n.Detail), false, false),
			nil, nil,
		))
	}
	return blocks
}

func truncate(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
