// Package view turns a plan into what a screen shows: filtered and sorted
// rows, totals, and the choices available to filter pickers.
package view

import (
	"slices"
	"time"

	"github.com/javi11/mediajanitor/internal/filter"
	"github.com/javi11/mediajanitor/internal/model"
	"github.com/jinzhu/copier"
)

// Options selects what the view shows.
type Options struct {
	Criteria filter.Criteria
	Sort     filter.SortSpec
	// Now anchors relative filters. Zero means time.Now().
	Now time.Time
}

// Row is the display projection of an item.
type Row struct {
	ID              int64
	Title           string
	Year            *int
	MediaType       model.MediaType
	Path            string
	SizeBytes       int64
	ViewCount       int
	LastViewedAt    model.Timestamp
	Rule            string
	ProtectedReason string
	QBHashes        []string

	Selected    bool
	Protected   bool
	HasTorrents bool
	Added       time.Time
}

// View is the composed state of one plan.
type View struct {
	PlanID model.PlanID
	Rows   []Row
	// All covers every item of the plan, Filtered only the visible rows.
	All      model.Totals
	Filtered model.Totals
	// ByMediaType counts every item of the plan per media type.
	ByMediaType map[model.MediaType]int
	// Rules are the distinct rule labels of the plan, sorted.
	Rules []string
	Sort  filter.SortSpec
}

// Compose filters then sorts the plan items. A nil plan yields an empty view.
func Compose(p *model.Plan, opts Options) View {
	v := View{
		ByMediaType: make(map[model.MediaType]int),
		Sort:        opts.Sort,
	}
	if p == nil {
		return v
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	v.PlanID = p.ID
	v.All = model.Summarize(p.Items)

	rules := make(map[string]struct{})
	for _, item := range p.Items {
		v.ByMediaType[item.MediaType]++
		if item.Rule != "" {
			rules[item.Rule] = struct{}{}
		}
	}
	for rule := range rules {
		v.Rules = append(v.Rules, rule)
	}
	slices.Sort(v.Rules)

	items := filter.Sort(filter.Apply(p.Items, opts.Criteria, now), opts.Sort)
	v.Filtered = model.Summarize(items)

	v.Rows = make([]Row, 0, len(items))
	for _, item := range items {
		v.Rows = append(v.Rows, NewRow(item))
	}

	return v
}

// NewRow projects an item. Selection is the effective one.
func NewRow(item model.Item) Row {
	var row Row
	// Same-named fields only; the error case is a programming mistake in Row
	if err := copier.Copy(&row, &item); err != nil {
		row = Row{ID: item.ID, Title: item.Title}
	}

	row.Selected = item.IsSelected()
	row.Protected = item.IsProtected()
	row.HasTorrents = item.HasTorrents()
	if added, ok := item.AddedAt(); ok {
		row.Added = added
	}

	return row
}

// Index returns the position of the row with id, or -1.
func (v View) Index(id int64) int {
	return slices.IndexFunc(v.Rows, func(r Row) bool { return r.ID == id })
}

// Empty reports whether no row is visible.
func (v View) Empty() bool {
	return len(v.Rows) == 0
}
