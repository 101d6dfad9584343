package view

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/javi11/mediajanitor/internal/model"
)

// Bytes renders a size with binary units.
func Bytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

// LastViewed renders a last-viewed timestamp relative to now.
func LastViewed(ts model.Timestamp, now time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return humanize.RelTime(ts.Time, now, "ago", "from now")
}

// Date renders a date or a dash when unknown.
func Date(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

// Title renders the title with its year when known.
func Title(r Row) string {
	if r.Year != nil && *r.Year > 0 {
		return fmt.Sprintf("%s (%d)", r.Title, *r.Year)
	}
	return r.Title
}

// Summary is the one-line selection summary shown under a plan.
func Summary(v View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s of %s selected (%s / %s)",
		humanize.Comma(int64(v.All.Selected)), humanize.Comma(int64(v.All.Count)),
		Bytes(v.All.SelectedBytes), Bytes(v.All.SizeBytes))
	if v.Filtered.Count != v.All.Count {
		fmt.Fprintf(&b, ", showing %s", humanize.Comma(int64(v.Filtered.Count)))
	}
	if v.All.Protected > 0 {
		fmt.Fprintf(&b, ", %d protected", v.All.Protected)
	}
	return b.String()
}
