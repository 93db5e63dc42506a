package zimfarm

// Task is a requested or running task as returned by the farm. Requested tasks
// carry a Rank; tasks carry Files and Container once the scraper started.
type Task struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Config       TaskConfig        `json:"config"`
	Files        map[string]File   `json:"files,omitempty"`
	Notification *TaskNotification `json:"notification,omitempty"`
	Container    *Container        `json:"container,omitempty"`
	Rank         *int              `json:"rank,omitempty"`
	Version      string            `json:"version,omitempty"`
}

// TaskConfig is the part of the task configuration exposed to callers.
type TaskConfig struct {
	WarehousePath string         `json:"warehouse_path"`
	Offliner      map[string]any `json:"offliner,omitempty"`
}

// File is an artifact produced by a task.
type File struct {
	Name             string `json:"name"`
	Size             int64  `json:"size"`
	CreatedTimestamp string `json:"created_timestamp"`
}

// TaskNotification lists the webhooks registered for task events.
type TaskNotification struct {
	Requested *NotificationTarget `json:"requested,omitempty"`
	Ended     *NotificationTarget `json:"ended,omitempty"`
}

// NotificationTarget holds webhook URLs.
type NotificationTarget struct {
	Webhook []string `json:"webhook,omitempty"`
}

// Container describes the scraper container of a running task.
type Container struct {
	Progress *Progress `json:"progress,omitempty"`
}

// Progress is reported by the scraper while it runs.
type Progress struct {
	PartialZim *bool `json:"partialZim,omitempty"`
	Overall    *int  `json:"overall,omitempty"`
}

// Schedule is the payload of CreateSchedule.
type Schedule struct {
	Name         string            `json:"name"`
	Language     Language          `json:"language"`
	Category     string            `json:"category"`
	Periodicity  string            `json:"periodicity"`
	Tags         []string          `json:"tags"`
	Enabled      bool              `json:"enabled"`
	Config       ScheduleConfig    `json:"config"`
	Notification *TaskNotification `json:"notification,omitempty"`
}

// Language of a schedule.
type Language struct {
	Code       string `json:"code"`
	NameEn     string `json:"name_en"`
	NameNative string `json:"name_native"`
}

// ScheduleConfig describes the task a schedule starts.
type ScheduleConfig struct {
	TaskName      string         `json:"task_name"`
	WarehousePath string         `json:"warehouse_path"`
	Image         Image          `json:"image"`
	Resources     Resources      `json:"resources"`
	Platform      *string        `json:"platform"`
	Monitor       bool           `json:"monitor"`
	Flags         map[string]any `json:"flags"`
}

// Image is the container image of the scraper.
type Image struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

// Resources requested for a task. Memory, disk and shm are in bytes.
type Resources struct {
	CPU    int      `json:"cpu"`
	Memory int64    `json:"memory"`
	Disk   int64    `json:"disk"`
	Shm    int64    `json:"shm"`
	CapAdd []string `json:"cap_add"`
}

type requestTasksPayload struct {
	ScheduleNames []string `json:"schedule_names"`
	Worker        string   `json:"worker,omitempty"`
}

type requestTasksResponse struct {
	Requested []string `json:"requested"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
