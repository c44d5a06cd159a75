package solo

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/themindlocksyndicate/tmls-companion/models"
)

func testCards() []models.Card {
	return []models.Card{
		{Code: "A", Category: "Focus"},
		{Code: "B", Category: "Focus"},
		{Code: "C", Category: "Calm"},
		{Code: "D", Category: "Calm"},
		{Code: "E", Category: "Calm"},
	}
}

func TestRand_IsDeterministic(t *testing.T) {
	a, b := NewRand("seed"), NewRand("seed")
	for i := 0; i < 10; i++ {
		x, y := a(), b()
		if x != y {
			t.Fatalf("Same seed diverged at step %d: %v vs %v", i, x, y)
		}
		if x < 0 || x >= 1 {
			t.Fatalf("Value %v out of [0,1)", x)
		}
	}
	if NewRand("seed")() == NewRand("other")() {
		t.Error("Different seeds should give different first values")
	}
}

func TestDraw_SameSeedSameCard(t *testing.T) {
	opts := Options{Deck: "cards", Seed: "abc"}
	first, err := Draw(testCards(), opts)
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	second, _ := Draw(testCards(), opts)
	if first.Card.Code != second.Card.Code {
		t.Errorf("Expected identical draws, got %s and %s", first.Card.Code, second.Card.Code)
	}
}

func TestDraw_CategoryFilter(t *testing.T) {
	for _, seed := range []string{"1", "2", "3", "4", "5"} {
		res, err := Draw(testCards(), Options{Deck: "cards", Category: "Calm", Seed: seed})
		if err != nil {
			t.Fatalf("Draw failed: %v", err)
		}
		if res.Card.Category != "Calm" || res.Pool != 3 {
			t.Errorf("Expected a Calm card from a pool of 3, got %+v", res)
		}
	}
}

func TestDraw_NoImmediateRepeat(t *testing.T) {
	opts := Options{Deck: "cards", Seed: "repeat"}
	first, _ := Draw(testCards(), opts)

	opts.LastKey = first.Key
	second, _ := Draw(testCards(), opts)
	if second.Card.Code == first.Card.Code {
		t.Errorf("Same seed with LastKey set should not repeat %s", first.Card.Code)
	}
}

func TestDraw_EmptyPool(t *testing.T) {
	if _, err := Draw(testCards(), Options{Category: "Missing"}); !errors.Is(err, ErrNoCards) {
		t.Errorf("Expected ErrNoCards, got %v", err)
	}
	if _, err := Draw(nil, Options{}); !errors.Is(err, ErrNoCards) {
		t.Errorf("Expected ErrNoCards for an empty deck, got %v", err)
	}
}

func TestDraw_FreshSeedAndPermalink(t *testing.T) {
	res, err := Draw(testCards(), Options{Deck: "cards", Category: "Focus", Symbol: "eye"})
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if res.Seed == "" {
		t.Fatal("A fresh seed should be generated")
	}

	q, err := url.ParseQuery(strings.TrimPrefix(res.Permalink, "?"))
	if err != nil {
		t.Fatalf("Permalink should parse: %v", err)
	}
	if q.Get("deck") != "cards" || q.Get("category") != "Focus" || q.Get("seed") != res.Seed || q.Get("symbol") != "eye" {
		t.Errorf("Unexpected permalink %s", res.Permalink)
	}

	again, _ := Draw(testCards(), Options{Deck: q.Get("deck"), Category: q.Get("category"), Seed: q.Get("seed")})
	if again.Card.Code != res.Card.Code {
		t.Error("Following the permalink should reproduce the draw")
	}
}

func TestSymbolKey(t *testing.T) {
	card := models.Card{Symbol: "Open Eye!"}
	if got := SymbolKey(card); got != "open-eye" {
		t.Errorf("Expected open-eye, got %q", got)
	}
	card.Extra = map[string]any{"symbol_key": "Spiral_2"}
	if got := SymbolKey(card); got != "spiral-2" {
		t.Errorf("Expected spiral-2, got %q", got)
	}
}
