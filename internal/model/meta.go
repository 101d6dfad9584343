package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// ArrMeta is what Radarr or Sonarr contributed to an item.
type ArrMeta struct {
	ID    *int64
	Title string
	Added Timestamp
}

// PlexMeta is what Plex contributed to an item.
type PlexMeta struct {
	RatingKey   string
	SeriesTitle string
	Season      *int
	Episode     *int
}

// OverseerrMeta is the request that brought the item in, if any.
type OverseerrMeta struct {
	RequestID   *int64
	Status      string
	RequestedBy string
}

// Meta is the per-provider metadata attached to an item. The server sends a
// flat object; known keys are sorted into the provider sections, the rest is
// kept verbatim in Extra.
type Meta struct {
	Radarr    *ArrMeta
	Sonarr    *ArrMeta
	Plex      *PlexMeta
	Overseerr *OverseerrMeta
	// AddedAt is the provider-neutral added date.
	AddedAt   Timestamp
	Tags      []string
	Monitored *bool
	Extra     map[string]json.RawMessage
}

// AddedSource names a field an item's added date may come from.
type AddedSource string

const (
	AddedFromRadarr  AddedSource = "radarr_added"
	AddedFromSonarr  AddedSource = "sonarr_added"
	AddedFromGeneric AddedSource = "added_at"
)

// AddedAtPrecedence is the order in which added dates are looked up.
var AddedAtPrecedence = []AddedSource{AddedFromRadarr, AddedFromSonarr, AddedFromGeneric}

// Added returns the added date recorded for source.
func (m Meta) Added(source AddedSource) (Timestamp, bool) {
	var ts Timestamp
	switch source {
	case AddedFromRadarr:
		if m.Radarr != nil {
			ts = m.Radarr.Added
		}
	case AddedFromSonarr:
		if m.Sonarr != nil {
			ts = m.Sonarr.Added
		}
	case AddedFromGeneric:
		ts = m.AddedAt
	}
	return ts, !ts.IsZero()
}

// DerivedAddedAt walks AddedAtPrecedence and returns the first date present.
func (m Meta) DerivedAddedAt() (Timestamp, bool) {
	for _, source := range AddedAtPrecedence {
		if ts, ok := m.Added(source); ok {
			return ts, true
		}
	}
	return Timestamp{}, false
}

// Clone returns a deep copy.
func (m Meta) Clone() Meta {
	out := m
	if m.Radarr != nil {
		out.Radarr = cloneArr(m.Radarr)
	}
	if m.Sonarr != nil {
		out.Sonarr = cloneArr(m.Sonarr)
	}
	if m.Plex != nil {
		p := *m.Plex
		p.Season = clonePtr(m.Plex.Season)
		p.Episode = clonePtr(m.Plex.Episode)
		out.Plex = &p
	}
	if m.Overseerr != nil {
		o := *m.Overseerr
		o.RequestID = clonePtr(m.Overseerr.RequestID)
		out.Overseerr = &o
	}
	out.Tags = slices.Clone(m.Tags)
	out.Monitored = clonePtr(m.Monitored)
	if m.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = slices.Clone(v)
		}
	}
	return out
}

func cloneArr(a *ArrMeta) *ArrMeta {
	c := *a
	c.ID = clonePtr(a.ID)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// metaFields is the flat wire shape.
type metaFields struct {
	RadarrID             json.RawMessage `json:"radarr_id"`
	RadarrTitle          *string         `json:"radarr_title"`
	RadarrAdded          Timestamp       `json:"radarr_added"`
	SonarrID             json.RawMessage `json:"sonarr_id"`
	SonarrTitle          *string         `json:"sonarr_title"`
	SonarrAdded          Timestamp       `json:"sonarr_added"`
	PlexRatingKey        json.RawMessage `json:"plex_rating_key"`
	SeriesTitle          *string         `json:"series_title"`
	Season               *int            `json:"season"`
	Episode              *int            `json:"episode"`
	OverseerrRequestID   json.RawMessage `json:"overseerr_request_id"`
	OverseerrStatus      *string         `json:"overseerr_status"`
	OverseerrRequestedBy *string         `json:"overseerr_requested_by"`
	AddedAt              Timestamp       `json:"added_at"`
	Tags                 []string        `json:"tags"`
	Monitored            *bool           `json:"monitored"`
}

var knownMetaKeys = []string{
	"radarr_id", "radarr_title", "radarr_added",
	"sonarr_id", "sonarr_title", "sonarr_added",
	"plex_rating_key", "series_title", "season", "episode",
	"overseerr_request_id", "overseerr_status", "overseerr_requested_by",
	"added_at", "tags", "monitored",
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*m = Meta{}
		return nil
	}

	var f metaFields
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("item meta: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("item meta: %w", err)
	}

	out := Meta{
		AddedAt:   f.AddedAt,
		Tags:      f.Tags,
		Monitored: f.Monitored,
	}

	radarrID, err := flexInt(f.RadarrID)
	if err != nil {
		return fmt.Errorf("radarr_id: %w", err)
	}
	if radarrID != nil || f.RadarrTitle != nil || !f.RadarrAdded.IsZero() {
		out.Radarr = &ArrMeta{ID: radarrID, Title: deref(f.RadarrTitle), Added: f.RadarrAdded}
	}

	sonarrID, err := flexInt(f.SonarrID)
	if err != nil {
		return fmt.Errorf("sonarr_id: %w", err)
	}
	if sonarrID != nil || f.SonarrTitle != nil || !f.SonarrAdded.IsZero() {
		out.Sonarr = &ArrMeta{ID: sonarrID, Title: deref(f.SonarrTitle), Added: f.SonarrAdded}
	}

	ratingKey := flexString(f.PlexRatingKey)
	if ratingKey != "" || f.SeriesTitle != nil || f.Season != nil || f.Episode != nil {
		out.Plex = &PlexMeta{
			RatingKey:   ratingKey,
			SeriesTitle: deref(f.SeriesTitle),
			Season:      f.Season,
			Episode:     f.Episode,
		}
	}

	requestID, err := flexInt(f.OverseerrRequestID)
	if err != nil {
		return fmt.Errorf("overseerr_request_id: %w", err)
	}
	if requestID != nil || deref(f.OverseerrStatus) != "" || deref(f.OverseerrRequestedBy) != "" {
		out.Overseerr = &OverseerrMeta{
			RequestID:   requestID,
			Status:      deref(f.OverseerrStatus),
			RequestedBy: deref(f.OverseerrRequestedBy),
		}
	}

	for _, k := range knownMetaKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		out.Extra = raw
	}

	*m = out
	return nil
}

func (m Meta) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(m.Extra)+8)
	for k, v := range m.Extra {
		flat[k] = v
	}

	if m.Radarr != nil {
		flat["radarr_id"] = m.Radarr.ID
		flat["radarr_title"] = m.Radarr.Title
		flat["radarr_added"] = m.Radarr.Added
	}
	if m.Sonarr != nil {
		flat["sonarr_id"] = m.Sonarr.ID
		flat["sonarr_title"] = m.Sonarr.Title
		flat["sonarr_added"] = m.Sonarr.Added
	}
	if m.Plex != nil {
		flat["plex_rating_key"] = m.Plex.RatingKey
		if m.Plex.SeriesTitle != "" {
			flat["series_title"] = m.Plex.SeriesTitle
		}
		if m.Plex.Season != nil {
			flat["season"] = *m.Plex.Season
		}
		if m.Plex.Episode != nil {
			flat["episode"] = *m.Plex.Episode
		}
	}
	if m.Overseerr != nil {
		flat["overseerr_request_id"] = m.Overseerr.RequestID
		flat["overseerr_status"] = m.Overseerr.Status
		flat["overseerr_requested_by"] = m.Overseerr.RequestedBy
	}
	if !m.AddedAt.IsZero() {
		flat["added_at"] = m.AddedAt
	}
	if m.Tags != nil {
		flat["tags"] = m.Tags
	}
	if m.Monitored != nil {
		flat["monitored"] = *m.Monitored
	}

	return json.Marshal(flat)
}

// ExtraKeys returns the unrecognised keys, sorted.
func (m Meta) ExtraKeys() []string {
	return slices.Sorted(maps.Keys(m.Extra))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// flexString reads a string or number as text.
func flexString(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
