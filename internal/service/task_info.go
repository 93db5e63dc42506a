package service

import (
	"sort"

	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
)

// TaskInfo is the public view of a capture task.
type TaskInfo struct {
	ID string
	// DownloadLink points at the earliest file of the task, when there is one.
	DownloadLink    string
	HasEmail        bool
	PartialZim      bool
	Status          string
	Flags           []TaskFlag
	Progress        int
	Rank            *int
	OfflinerVersion string
}

// TaskFlag is a scraper flag of a task.
type TaskFlag struct {
	Name  string
	Value any
}

func newTaskInfo(task *zimfarm.Task, downloadURL string) *TaskInfo {
	info := &TaskInfo{
		ID:              task.ID,
		Status:          task.Status,
		Rank:            task.Rank,
		OfflinerVersion: task.Version,
		HasEmail: task.Notification != nil &&
			task.Notification.Ended != nil &&
			len(task.Notification.Ended.Webhook) > 0,
	}

	if first, ok := earliestFile(task.Files); ok {
		info.DownloadLink = downloadURL + task.Config.WarehousePath + "/" + first
	}

	if task.Container != nil && task.Container.Progress != nil {
		progress := task.Container.Progress
		info.PartialZim = progress.PartialZim != nil && *progress.PartialZim
		if progress.Overall != nil {
			info.Progress = *progress.Overall
		}
	}

	info.Flags = make([]TaskFlag, 0, len(task.Config.Offliner))
	for name, value := range task.Config.Offliner {
		info.Flags = append(info.Flags, TaskFlag{Name: name, Value: value})
	}
	sort.Slice(info.Flags, func(i, j int) bool { return info.Flags[i].Name < info.Flags[j].Name })

	return info
}

// earliestFile returns the name of the first file created by a task.
func earliestFile(files map[string]zimfarm.File) (string, bool) {
	var (
		name    string
		created string
		found   bool
	)
	for key, file := range files {
		fileName := file.Name
		if fileName == "" {
			fileName = key
		}
		if !found || file.CreatedTimestamp < created ||
			(file.CreatedTimestamp == created && fileName < name) {
			name, created, found = fileName, file.CreatedTimestamp, true
		}
	}
	return name, found
}
