package storage

import (
	"encoding/json"
	"strings"
	"sync"
)

const (
	recentSearchesKey = "recentSearches"
	lastLocationKey   = "lastLocation"

	// MaxRecentSearches bounds the recent-search list.
	MaxRecentSearches = 8
)

// Location is the last location context the user selected.
type Location struct {
	City     string  `json:"city"`
	Area     string  `json:"area,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lng      float64 `json:"lng,omitempty"`
	RadiusKm float64 `json:"radiusKm,omitempty"`
}

// Prefs reads and writes advisory user preferences. Corrupt or missing
// values read as empty.
type Prefs struct {
	mu    sync.Mutex // serializes read-modify-write of the search list
	store Store
}

// NewPrefs wraps store.
func NewPrefs(store Store) *Prefs { return &Prefs{store: store} }

// RecentSearches returns the list, most recent first.
func (p *Prefs) RecentSearches() []string {
	b, err := p.store.Get(recentSearchesKey)
	if err != nil {
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return nil
	}
	return list
}

// AddRecentSearch moves term to the front, dropping case-insensitive
// duplicates and trimming to MaxRecentSearches.
func (p *Prefs) AddRecentSearch(term string) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	list := []string{term}
	for _, s := range p.RecentSearches() {
		if strings.EqualFold(s, term) {
			continue
		}
		list = append(list, s)
		if len(list) == MaxRecentSearches {
			break
		}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return p.store.Set(recentSearchesKey, b)
}

// ClearRecentSearches empties the list.
func (p *Prefs) ClearRecentSearches() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Delete(recentSearchesKey)
}

// LastLocation returns the stored location, if any.
func (p *Prefs) LastLocation() (Location, bool) {
	b, err := p.store.Get(lastLocationKey)
	if err != nil {
		return Location{}, false
	}
	var loc Location
	if err := json.Unmarshal(b, &loc); err != nil || loc.City == "" {
		return Location{}, false
	}
	return loc, true
}

// SetLastLocation stores loc.
func (p *Prefs) SetLastLocation(loc Location) error {
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return p.store.Set(lastLocationKey, b)
}
