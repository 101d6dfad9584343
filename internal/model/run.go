package model

// ApplyResult is returned when a plan is submitted for execution.
type ApplyResult struct {
	RunID   int64  `json:"run_id"`
	Message string `json:"message"`
}

// Run is a plan execution.
type Run struct {
	ID         int64          `json:"id"`
	PlanID     PlanID         `json:"plan_id"`
	StartedAt  Timestamp      `json:"started_at"`
	FinishedAt Timestamp      `json:"finished_at"`
	Status     string         `json:"status"`
	Results    map[string]any `json:"results"`
}

// IsFinished reports whether the run will not change anymore.
func (r Run) IsFinished() bool {
	return !r.FinishedAt.IsZero()
}

// RunLog is the per-item outcome of a run.
type RunLog struct {
	PlanItemID          int64  `json:"plan_item_id"`
	Title               string `json:"title"`
	Status              string `json:"status"`
	Error               string `json:"error,omitempty"`
	QBRemoved           bool   `json:"qb_removed"`
	RadarrSonarrRemoved bool   `json:"radarr_sonarr_removed"`
	PlexRefreshed       bool   `json:"plex_refreshed"`
}

// ProtectRequest asks the server to exclude a media from future plans.
type ProtectRequest struct {
	MediaType MediaType `json:"media_type"`
	TMDBID    *int64    `json:"tmdb_id,omitempty"`
	TVDBID    *int64    `json:"tvdb_id,omitempty"`
	IMDBID    string    `json:"imdb_id,omitempty"`
	Path      string    `json:"path,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// ProtectRequestFor builds a protection request from a plan item.
func ProtectRequestFor(item Item, reason string) ProtectRequest {
	return ProtectRequest{
		MediaType: item.MediaType,
		TMDBID:    clonePtr(item.IDs.TMDB),
		TVDBID:    clonePtr(item.IDs.TVDB),
		IMDBID:    item.IDs.IMDB,
		Path:      item.Path,
		Reason:    reason,
	}
}

// ServiceStatus is one entry of the diagnostics report.
type ServiceStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Diagnostics maps service names (plex, radarr, ...) to their status.
type Diagnostics map[string]ServiceStatus

// ServerConfig is the subset of the server configuration the client reads.
type ServerConfig struct {
	App   AppConfig      `json:"app"`
	Rules map[string]any `json:"rules,omitempty"`
}

// AppConfig holds server application settings.
type AppConfig struct {
	// RequireConfirmPhrase is the phrase that must be typed before applying a
	// plan. Empty means no confirmation is required.
	RequireConfirmPhrase  string   `json:"require_confirm_phrase"`
	DryRunDefault         bool     `json:"dry_run_default"`
	RequireManualApproval bool     `json:"require_manual_approval"`
	ExcludedPaths         []string `json:"excluded_paths,omitempty"`
}
