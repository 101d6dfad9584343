// Package filter narrows and orders plan items for display. Everything here is
// pure: inputs are never mutated and the clock is passed in.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/javi11/mediajanitor/internal/model"
)

// Predicate reports whether an item is kept.
type Predicate func(item model.Item) bool

// TorrentFilter restricts items by linked torrents.
type TorrentFilter string

const (
	TorrentsAny     TorrentFilter = ""
	TorrentsWith    TorrentFilter = "with"
	TorrentsWithout TorrentFilter = "without"
)

// ProtectionFilter restricts items by protection state.
type ProtectionFilter string

const (
	ProtectionAny         ProtectionFilter = ""
	ProtectionProtected   ProtectionFilter = "protected"
	ProtectionUnprotected ProtectionFilter = "unprotected"
)

// RuleAll matches every rule label.
const RuleAll = "all"

// Criteria is the filter configuration. The zero value keeps everything.
type Criteria struct {
	NeverWatchedOnly bool
	// LastWatchedDays keeps items last viewed more than this many days ago (0 = off).
	LastWatchedDays int
	// AddedMonths keeps items added more than this many months ago (0 = off).
	AddedMonths int
	Torrents    TorrentFilter
	Protection  ProtectionFilter
	// Rule keeps items selected by this rule; "" or "all" keeps any.
	Rule string
	// MediaType keeps a single media type; "" keeps all.
	MediaType model.MediaType
}

// IsZero reports whether no filter is active.
func (c Criteria) IsZero() bool {
	return len(c.predicates(time.Time{})) == 0
}

// NeverWatched keeps items with no plays.
func NeverWatched(item model.Item) bool {
	return item.IsNeverWatched()
}

// LastWatchedBefore keeps items never viewed or last viewed strictly before now-days.
func LastWatchedBefore(days int, now time.Time) Predicate {
	cutoff := now.AddDate(0, 0, -days)
	return func(item model.Item) bool {
		if item.LastViewedAt.IsZero() {
			return true
		}
		return item.LastViewedAt.Before(cutoff)
	}
}

// AddedBefore keeps items whose derived added date exists and is strictly
// before now-months. Items without an added date are dropped.
func AddedBefore(months int, now time.Time) Predicate {
	cutoff := now.AddDate(0, -months, 0)
	return func(item model.Item) bool {
		added, ok := item.AddedAt()
		if !ok {
			return false
		}
		return added.Before(cutoff)
	}
}

// TorrentPresence filters on linked torrents.
func TorrentPresence(f TorrentFilter) Predicate {
	switch f {
	case TorrentsWith:
		return model.Item.HasTorrents
	case TorrentsWithout:
		return func(item model.Item) bool { return !item.HasTorrents() }
	default:
		return nil
	}
}

// ProtectionState filters on protection.
func ProtectionState(f ProtectionFilter) Predicate {
	switch f {
	case ProtectionProtected:
		return model.Item.IsProtected
	case ProtectionUnprotected:
		return func(item model.Item) bool { return !item.IsProtected() }
	default:
		return nil
	}
}

// RuleEquals keeps items selected by rule. "" and "all" keep everything.
func RuleEquals(rule string) Predicate {
	if rule == "" || rule == RuleAll {
		return nil
	}
	return func(item model.Item) bool { return item.Rule == rule }
}

// MediaTypeIs keeps items of type t. "" keeps everything.
func MediaTypeIs(t model.MediaType) Predicate {
	if t == "" {
		return nil
	}
	return func(item model.Item) bool { return item.MediaType == t }
}

func (c Criteria) predicates(now time.Time) []Predicate {
	var preds []Predicate
	add := func(p Predicate) {
		if p != nil {
			preds = append(preds, p)
		}
	}

	add(MediaTypeIs(c.MediaType))
	if c.NeverWatchedOnly {
		add(NeverWatched)
	}
	if c.LastWatchedDays > 0 {
		add(LastWatchedBefore(c.LastWatchedDays, now))
	}
	if c.AddedMonths > 0 {
		add(AddedBefore(c.AddedMonths, now))
	}
	add(TorrentPresence(c.Torrents))
	add(ProtectionState(c.Protection))
	add(RuleEquals(c.Rule))

	return preds
}

// Apply returns the items matching every active criterion, in input order.
// The input slice is not modified; the result never aliases it.
func Apply(items []model.Item, c Criteria, now time.Time) []model.Item {
	preds := c.predicates(now)

	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		if matchAll(item, preds) {
			out = append(out, item)
		}
	}
	return out
}

func matchAll(item model.Item, preds []Predicate) bool {
	for _, p := range preds {
		if !p(item) {
			return false
		}
	}
	return true
}

// ParseTorrentFilter maps "any", "with", "without".
func ParseTorrentFilter(s string) (TorrentFilter, error) {
	switch strings.ToLower(s) {
	case "", "any", "all":
		return TorrentsAny, nil
	case "with":
		return TorrentsWith, nil
	case "without":
		return TorrentsWithout, nil
	}
	return TorrentsAny, fmt.Errorf("unknown torrent filter %q (any, with, without)", s)
}

// ParseProtectionFilter maps "any", "protected", "unprotected".
func ParseProtectionFilter(s string) (ProtectionFilter, error) {
	switch strings.ToLower(s) {
	case "", "any", "all":
		return ProtectionAny, nil
	case "protected":
		return ProtectionProtected, nil
	case "unprotected":
		return ProtectionUnprotected, nil
	}
	return ProtectionAny, fmt.Errorf("unknown protection filter %q (any, protected, unprotected)", s)
}
