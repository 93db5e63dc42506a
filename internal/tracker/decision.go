package tracker

// Status is the outcome of an admission request. Values are stable and exposed
// as-is by the HTTP API.
type Status string

const (
	// StatusTaskAdded means the task reference was registered for the caller.
	StatusTaskAdded Status = "task_added"
	// StatusCanAddTask answers a dry-run: the caller is under quota.
	StatusCanAddTask Status = "can_add_task"
	// StatusTooManyTasksForIdentity means the identified caller is at capacity.
	StatusTooManyTasksForIdentity Status = "too_many_tasks_for_unique_id"
	// StatusTooManyTasksForIP means an anonymous caller's address is at capacity.
	StatusTooManyTasksForIP Status = "too_many_tasks_for_ip_address"
	// StatusInvalidIdentity means the supplied identity token failed validation.
	StatusInvalidIdentity Status = "invalid_unique_id"
)

// Decision is the result of Tracker.AddTask.
type Decision struct {
	Status Status

	// OngoingTasks is only set with StatusTooManyTasksForIdentity: the caller's
	// own outstanding task references. It is never disclosed for IP-based refusals.
	OngoingTasks []string

	// NewIdentity is only set with StatusTaskAdded when the caller supplied no
	// identity and one was minted. The caller must present it on later requests.
	NewIdentity string
}

// Allowed reports whether the caller was admitted (registered or may register).
func (d Decision) Allowed() bool {
	return d.Status == StatusTaskAdded || d.Status == StatusCanAddTask
}

func (s Status) String() string {
	return string(s)
}
