package filter

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/javi11/mediajanitor/internal/model"
	"golang.org/x/text/cases"
)

// SortKey selects the ordering.
type SortKey string

const (
	SortNone       SortKey = ""
	SortTitle      SortKey = "title"
	SortViewCount  SortKey = "view_count"
	SortLastViewed SortKey = "last_viewed"
	SortAddedDate  SortKey = "added_date"
	SortSize       SortKey = "size"
)

// SortKeys is the cycling order used by interactive views.
var SortKeys = []SortKey{SortTitle, SortViewCount, SortLastViewed, SortAddedDate, SortSize}

// Direction orders ascending or descending.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Toggle flips the direction.
func (d Direction) Toggle() Direction {
	if d == Descending {
		return Ascending
	}
	return Descending
}

// SortSpec is one key plus a direction.
type SortSpec struct {
	Key       SortKey
	Direction Direction
}

func (s SortSpec) String() string {
	if s.Key == SortNone {
		return "none"
	}
	return string(s.Key) + " " + s.Direction.String()
}

var folder = cases.Fold()

type keyCompare func(a, b model.Item) int

func compareFor(key SortKey) keyCompare {
	switch key {
	case SortTitle:
		return func(a, b model.Item) int {
			return strings.Compare(folder.String(a.Title), folder.String(b.Title))
		}
	case SortViewCount:
		return func(a, b model.Item) int { return cmp.Compare(a.ViewCount, b.ViewCount) }
	case SortLastViewed:
		return func(a, b model.Item) int {
			return cmp.Compare(unixOrZero(a.LastViewedAt.Time), unixOrZero(b.LastViewedAt.Time))
		}
	case SortAddedDate:
		return func(a, b model.Item) int {
			ta, _ := a.AddedAt()
			tb, _ := b.AddedAt()
			return cmp.Compare(unixOrZero(ta), unixOrZero(tb))
		}
	case SortSize:
		return func(a, b model.Item) int { return cmp.Compare(a.SizeBytes, b.SizeBytes) }
	default:
		return nil
	}
}

// unixOrZero maps absent times to 0 so they sort like the epoch.
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Sort returns a sorted copy of items. Equal keys keep their input order in
// both directions. An unknown or empty key returns the items in input order.
func Sort(items []model.Item, spec SortSpec) []model.Item {
	out := make([]model.Item, len(items))
	copy(out, items)

	compare := compareFor(spec.Key)
	if compare == nil {
		return out
	}

	if spec.Direction == Descending {
		sort.SliceStable(out, func(i, j int) bool { return compare(out[j], out[i]) < 0 })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return compare(out[i], out[j]) < 0 })
	}

	return out
}

// ParseSortKey maps user input to a key. "alphabetical" is accepted for title.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return SortNone, nil
	case "title", "alphabetical", "name":
		return SortTitle, nil
	case "view_count", "views":
		return SortViewCount, nil
	case "last_viewed", "last_viewed_at":
		return SortLastViewed, nil
	case "added_date", "added", "added_at":
		return SortAddedDate, nil
	case "size", "size_bytes":
		return SortSize, nil
	}
	return SortNone, fmt.Errorf("unknown sort key %q", s)
}

// ParseDirection maps "asc"/"desc".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return Ascending, fmt.Errorf("unknown sort direction %q", s)
}

// NextSortKey returns the key after k in SortKeys, wrapping around.
func NextSortKey(k SortKey) SortKey {
	for i, key := range SortKeys {
		if key == k {
			return SortKeys[(i+1)%len(SortKeys)]
		}
	}
	return SortKeys[0]
}
