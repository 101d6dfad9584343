package model

import (
	"maps"
	"slices"
	"time"
)

// MediaType is the kind of media an item represents.
type MediaType string

const (
	MediaMovie   MediaType = "movie"
	MediaSeries  MediaType = "series"
	MediaEpisode MediaType = "episode"
)

// Item is a single deletion candidate within a plan.
type Item struct {
	ID              int64       `json:"id"`
	Selected        bool        `json:"selected"`
	MediaType       MediaType   `json:"media_type"`
	Title           string      `json:"title"`
	Year            *int        `json:"year"`
	IDs             ExternalIDs `json:"ids"`
	Path            string      `json:"path"`
	SizeBytes       int64       `json:"size_bytes"`
	LastViewedAt    Timestamp   `json:"last_viewed_at"`
	ViewCount       int         `json:"view_count"`
	NeverWatched    bool        `json:"never_watched"`
	Rule            string      `json:"rule"`
	ProtectedReason string      `json:"protected_reason,omitempty"`
	QBHashes        []string    `json:"qb_hashes"`
	Meta            Meta        `json:"meta"`
}

// IsProtected reports whether the item is excluded from deletion.
func (i Item) IsProtected() bool {
	return i.ProtectedReason != ""
}

// IsSelected is the effective selection: protected items are never selected,
// whatever the stored flag says.
func (i Item) IsSelected() bool {
	return i.Selected && !i.IsProtected()
}

// HasTorrents reports whether any torrent is linked to the item.
func (i Item) HasTorrents() bool {
	return len(i.QBHashes) > 0
}

// IsNeverWatched reports whether the item has no recorded plays.
func (i Item) IsNeverWatched() bool {
	return i.NeverWatched || i.ViewCount == 0
}

// AddedAt derives the added date from the provider metadata.
func (i Item) AddedAt() (time.Time, bool) {
	ts, ok := i.Meta.DerivedAddedAt()
	return ts.Time, ok
}

// Clone returns a deep copy.
func (i Item) Clone() Item {
	out := i
	out.Year = clonePtr(i.Year)
	out.IDs.TMDB = clonePtr(i.IDs.TMDB)
	out.IDs.TVDB = clonePtr(i.IDs.TVDB)
	out.QBHashes = slices.Clone(i.QBHashes)
	out.Meta = i.Meta.Clone()
	return out
}

// Plan is a server-generated list of deletion candidates.
type Plan struct {
	ID        PlanID         `json:"id"`
	CreatedAt Timestamp      `json:"created_at"`
	Status    string         `json:"status"`
	Summary   map[string]any `json:"summary"`
	Items     []Item         `json:"items"`
}

// Clone returns a deep copy; nil stays nil.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Summary = maps.Clone(p.Summary)
	if p.Items != nil {
		out.Items = make([]Item, len(p.Items))
		for idx, item := range p.Items {
			out.Items[idx] = item.Clone()
		}
	}
	return &out
}

// Item returns the item with id and its index.
func (p *Plan) Item(id int64) (Item, int, bool) {
	if p == nil {
		return Item{}, -1, false
	}
	for idx, item := range p.Items {
		if item.ID == id {
			return item, idx, true
		}
	}
	return Item{}, -1, false
}

// Totals aggregates counts and sizes over a set of items.
type Totals struct {
	Count         int
	SizeBytes     int64
	Selected      int
	SelectedBytes int64
	Protected     int
}

// Summarize computes totals using effective selection.
func Summarize(items []Item) Totals {
	var t Totals
	for _, item := range items {
		t.Count++
		t.SizeBytes += item.SizeBytes
		if item.IsProtected() {
			t.Protected++
		}
		if item.IsSelected() {
			t.Selected++
			t.SelectedBytes += item.SizeBytes
		}
	}
	return t
}

// SelectionUpdate is one item's requested selection.
type SelectionUpdate struct {
	ID       int64 `json:"id"`
	Selected bool  `json:"selected"`
}

// UpdateItemsRequest is the body of PATCH plan/{id}/items. When SelectAll is
// set, Items is empty and the server applies the flag to every item.
type UpdateItemsRequest struct {
	Items     []SelectionUpdate `json:"items"`
	SelectAll *bool             `json:"select_all,omitempty"`
}
