package notify

// Well-known event names carried by completion webhooks and pushed to
// attached clients.
const (
	EventInitialCompleted  = "hardware.initial.completed"
	EventReportCompleted   = "hardware.report.completed"
	EventFirmwareCompleted = "firmware.code.completed"
	EventModelCompleted    = "hardware.model.completed"
)

// Event is the envelope published to a channel when a generation job's
// result row became visible. It deliberately carries identifiers only; the
// client re-fetches the authoritative record via the job status endpoint so
// there is never a second source of truth for result contents.
type Event struct {
	Event     string `json:"event"`
	ProjectID string `json:"projectId"`
	ReportID  string `json:"reportId"`
}
