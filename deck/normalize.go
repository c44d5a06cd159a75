package deck

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/themindlocksyndicate/tmls-companion/models"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slug lowercases s and joins its alphanumeric runs with dashes.
func slug(s string) string {
	out := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-"), "-")
	if out == "" {
		return "CARD"
	}
	return out
}

func str(row map[string]any, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// first returns the first non-empty field among keys.
func first(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(row, k); s != "" {
			return s
		}
	}
	return ""
}

var known = map[string]bool{
	"id": true, "code": true, "slug": true, "card": true, "title": true,
	"subtitle": true, "category": true, "symbol": true, "rarity": true,
	"color": true, "hints": true,
}

// hints reads a hints array, or hint1..hintN keys in key order.
func hints(row map[string]any) []string {
	if list, ok := row["hints"].([]any); ok {
		out := make([]string, 0, len(list))
		for _, h := range list {
			if s := strings.TrimSpace(fmt.Sprint(h)); h != nil && s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	var keys []string
	for k := range row {
		if strings.HasPrefix(strings.ToLower(k), "hint") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		if s := str(row, k); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func build(row map[string]any, code, title string) models.Card {
	card := models.Card{
		Code:     code,
		Title:    title,
		Subtitle: str(row, "subtitle"),
		Category: str(row, "category"),
		Symbol:   str(row, "symbol"),
		Rarity:   str(row, "rarity"),
		Color:    str(row, "color"),
		Hints:    hints(row),
	}
	for k, v := range row {
		if known[k] || strings.HasPrefix(strings.ToLower(k), "hint") {
			continue
		}
		if card.Extra == nil {
			card.Extra = make(map[string]any)
		}
		card.Extra[k] = v
	}
	return card
}

// normalizeDataset handles rows of the flat datasets/*.json lists, keyed by id.
func normalizeDataset(row map[string]any) models.Card {
	code := first(row, "id", "code")
	if code == "" {
		code = slug(first(row, "card", "title"))
	}
	code = strings.ToUpper(code)
	title := first(row, "card", "title")
	if title == "" {
		title = code
	}
	return build(row, code, title)
}

// normalizeGeneric handles rows of per-deck cards.json files.
func normalizeGeneric(row map[string]any) models.Card {
	code := first(row, "code", "id")
	if code == "" {
		code = slug(first(row, "title", "slug", "card"))
	}
	code = strings.ToUpper(code)
	title := first(row, "title", "card")
	if title == "" {
		title = code
	}
	return build(row, code, title)
}

// Categories lists the distinct non-empty categories, sorted.
func Categories(cards []models.Card) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range cards {
		cat := strings.TrimSpace(c.Category)
		if cat == "" || seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}
