package api

// TrackerStatusRequest is the payload of POST /tracker_status.
type TrackerStatusRequest struct {
	UniqueID string `json:"uniqueId"`
}

// TrackerStatusResponse tells the caller whether it may request a task.
// OngoingTasks is only set when the identified caller is at capacity.
type TrackerStatusResponse struct {
	Status       string   `json:"status"`
	OngoingTasks []string `json:"ongoingTasks"`
}

// CreateRequestRequest is the payload of POST /requests.
type CreateRequestRequest struct {
	URL      string         `json:"url"      validate:"required,max=2048"`
	Lang     string         `json:"lang"     validate:"omitempty,bcp47_language_tag"`
	Email    string         `json:"email"    validate:"omitempty,email"`
	Flags    map[string]any `json:"flags"`
	UniqueID string         `json:"uniqueId"`
}

// CreateRequestResponse identifies the requested task. NewUniqueID is set
// when the caller had no identity yet.
type CreateRequestResponse struct {
	ID          string  `json:"id"`
	NewUniqueID *string `json:"newUniqueId"`
}

// CancelRequestRequest is the payload of DELETE /requests/{id}.
type CancelRequestRequest struct {
	UniqueID string `json:"uniqueId"`
}

// TaskInfoFlag is a scraper flag of a task.
type TaskInfoFlag struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// TaskInfoResponse is the public view of a capture task.
type TaskInfoResponse struct {
	ID                        string         `json:"id"`
	DownloadLink              *string        `json:"downloadLink"`
	HasEmail                  bool           `json:"hasEmail"`
	PartialZim                bool           `json:"partialZim"`
	Status                    string         `json:"status"`
	Flags                     []TaskInfoFlag `json:"flags"`
	Progress                  int            `json:"progress"`
	Rank                      *int           `json:"rank"`
	OfflinerDefinitionVersion string         `json:"offlinerDefinitionVersion"`
}

// HookResponse is returned to the farm on webhook calls.
type HookResponse struct {
	Status string `json:"status"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status           string `json:"status"`
	TrackedClients   int    `json:"trackedClients"`
	BlacklistEntries int    `json:"blacklistEntries"`
}
