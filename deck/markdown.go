package deck

import (
	"strings"

	"github.com/themindlocksyndicate/tmls-companion/models"
)

// RenderMarkdown formats one card for the chat transcript.
func RenderMarkdown(card models.Card) string {
	var b strings.Builder
	title := card.Title
	if title == "" {
		title = card.Code
	}
	b.WriteString("# " + title)

	meta := [][2]string{
		{"Category", card.Category},
		{"Symbol", card.Symbol},
		{"Rarity", card.Rarity},
		{"Color", card.Color},
	}
	for _, m := range meta {
		if strings.TrimSpace(m[1]) == "" {
			continue
		}
		b.WriteString("\n- **" + m[0] + ":** " + m[1])
	}

	if len(card.Hints) > 0 {
		b.WriteString("\n")
		for _, h := range card.Hints {
			b.WriteString("\n> " + h)
		}
	}
	return b.String()
}

// RenderTranscript joins the markdown of several cards with horizontal rules.
func RenderTranscript(cards []models.Card) string {
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = RenderMarkdown(c)
	}
	return strings.Join(parts, "\n\n---\n\n")
}
