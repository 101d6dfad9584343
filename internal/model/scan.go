package model

// ScanStartResult is the answer to starting a scan. Exactly one of ScanID
// (asynchronous scan) or PlanID (scan finished synchronously) is expected.
type ScanStartResult struct {
	ScanID string         `json:"scan_id,omitempty"`
	PlanID PlanID         `json:"plan_id,omitempty"`
	Stats  map[string]any `json:"stats,omitempty"`
}

// ScanEventStatus is the status carried by a progress event.
type ScanEventStatus string

const (
	ScanEventRunning   ScanEventStatus = "running"
	ScanEventCompleted ScanEventStatus = "completed"
	ScanEventError     ScanEventStatus = "error"
)

// ScanEvent is one progress message from the server. Every field is optional;
// a nil Logs slice means the event carried no log list, an empty one clears it.
type ScanEvent struct {
	Status      ScanEventStatus `json:"status,omitempty"`
	Progress    *float64        `json:"progress,omitempty"`
	CurrentStep string          `json:"current_step,omitempty"`
	Logs        []LogEntry      `json:"logs,omitempty"`
	PlanID      PlanID          `json:"plan_id,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// LogEntry is a scan log line.
type LogEntry struct {
	Timestamp Timestamp `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}
