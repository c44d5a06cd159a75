// deck/loader.go
package deck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
)

var (
	ErrDeckNotFound = errors.New("deck not found")
)

// Loader fetches decks from the published dataset site. Loaded decks are
// immutable and cached for the life of the process.
type Loader struct {
	baseURL     string
	defaultDeck string
	client      *http.Client

	group singleflight.Group
	mutex sync.RWMutex
	decks map[string]*models.Deck
}

// NewLoader 创建牌组加载器
func NewLoader(baseURL, defaultDeck string, client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	if defaultDeck == "" {
		defaultDeck = "cards"
	}
	return &Loader{
		baseURL:     strings.TrimRight(baseURL, "/"),
		defaultDeck: defaultDeck,
		client:      client,
		decks:       make(map[string]*models.Deck),
	}
}

// DefaultDeck is the id used when a room or request names none.
func (l *Loader) DefaultDeck() string {
	return l.defaultDeck
}

func (l *Loader) canonical(deckID string) string {
	id := strings.TrimSpace(deckID)
	if id == "" || id == models.DefaultDeckID {
		id = l.defaultDeck
	}
	return id
}

// Load returns the deck with the given id. Concurrent loads of one id share
// a single fetch; failures are not cached.
func (l *Loader) Load(ctx context.Context, deckID string) (*models.Deck, error) {
	id := l.canonical(deckID)

	l.mutex.RLock()
	d, ok := l.decks[id]
	l.mutex.RUnlock()
	if ok {
		return d, nil
	}

	v, err, _ := l.group.Do(id, func() (any, error) {
		d, err := l.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		l.mutex.Lock()
		l.decks[id] = d
		l.mutex.Unlock()
		logger.Log.Infof("Loaded deck %s with %d cards", id, len(d.Cards))
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Deck), nil
}

func (l *Loader) fetch(ctx context.Context, id string) (*models.Deck, error) {
	// Flat lists live under datasets/; "cards" is the original TMLS deck.
	if id == "cards" || strings.HasSuffix(id, ".json") {
		name := strings.TrimSuffix(id, ".json")
		var rows []map[string]any
		if err := l.getJSON(ctx, "datasets/"+name+".json", &rows); err != nil {
			return nil, err
		}
		d := &models.Deck{ID: name, Name: name, Cards: make([]models.Card, 0, len(rows))}
		if name == "cards" {
			d.Name = "TMLS Cards"
		}
		for _, row := range rows {
			d.Cards = append(d.Cards, normalizeDataset(row))
		}
		return d, nil
	}

	var cfg map[string]any
	if err := l.getJSON(ctx, id+"/deck.config.json", &cfg); err != nil {
		return nil, err
	}
	d := &models.Deck{ID: id, Name: id, Config: cfg, Cards: []models.Card{}}
	if name, ok := cfg["name"].(string); ok && name != "" {
		d.Name = name
	}

	var raw json.RawMessage
	if err := l.getJSON(ctx, id+"/cards.json", &raw); err != nil {
		logger.Log.Warnf("Deck %s has no cards.json: %v", id, err)
	} else {
		rows, err := cardRows(raw)
		if err != nil {
			return nil, fmt.Errorf("deck %s cards: %w", id, err)
		}
		for _, row := range rows {
			d.Cards = append(d.Cards, normalizeGeneric(row))
		}
	}

	if front, err := l.getText(ctx, id+"/templates/front.svg"); err == nil {
		d.Templates.Front = front
	}
	if back, err := l.getText(ctx, id+"/templates/back.svg"); err == nil {
		d.Templates.Back = back
	}
	return d, nil
}

// cardRows accepts either a bare list or an object with a cards (or list) field.
func cardRows(raw json.RawMessage) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}
	var wrapped struct {
		Cards []map[string]any `json:"cards"`
		List  []map[string]any `json:"list"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Cards != nil {
		return wrapped.Cards, nil
	}
	return wrapped.List, nil
}

func (l *Loader) get(ctx context.Context, path string) (io.ReadCloser, error) {
	url := l.baseURL + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", url, err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrDeckNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s returned %s", url, resp.Status)
	}
	return resp.Body, nil
}

func (l *Loader) getJSON(ctx context.Context, path string, v any) error {
	body, err := l.get(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (l *Loader) getText(ctx context.Context, path string) (string, error) {
	body, err := l.get(ctx, path)
	if err != nil {
		return "", err
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
