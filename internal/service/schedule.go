package service

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
)

const (
	userAgentSuffix   = "zimit.kiwix.org+"
	warehousePath     = "/other"
	scheduleIDLength  = 8
	contentHeaderSize = 2048
)

// droppedFlags are never passed to the scraper, whatever the caller sends.
var droppedFlags = []string{"adminEmail", "output", "zimit-progress-file"}

// buildSchedule creates the single-use schedule of a capture request.
func (s *RequestService) buildSchedule(target *url.URL, req CreateTaskRequest) (zimfarm.Schedule, error) {
	imageName, imageTag, ok := splitImage(s.cfg.Image)
	if !ok {
		return zimfarm.Schedule{}, fmt.Errorf("invalid image %q", s.cfg.Image)
	}

	hostname := target.Hostname()
	ident := s.newID()
	if len(ident) > scheduleIDLength {
		ident = ident[:scheduleIDLength]
	}
	name := hostname + "_" + ident

	schedule := zimfarm.Schedule{
		Name: name,
		Language: zimfarm.Language{
			Code:       "eng",
			NameEn:     "English",
			NameNative: "English",
		},
		Category:    "other",
		Periodicity: "manually",
		Tags:        []string{},
		Enabled:     true,
		Config: zimfarm.ScheduleConfig{
			TaskName:      "zimit",
			WarehousePath: warehousePath,
			Image:         zimfarm.Image{Name: imageName, Tag: imageTag},
			Resources: zimfarm.Resources{
				CPU:    s.cfg.TaskCPU,
				Memory: s.cfg.TaskMemory,
				Disk:   s.cfg.TaskDisk,
				Shm:    s.cfg.TaskMemory,
				CapAdd: []string{"SYS_ADMIN", "NET_ADMIN"},
			},
			Flags: s.scraperFlags(target, name, ident, req.Flags),
		},
	}

	if req.Email != "" {
		webhook := s.webhookURL(req.Email, req.Lang)
		schedule.Notification = &zimfarm.TaskNotification{
			Requested: &zimfarm.NotificationTarget{Webhook: []string{webhook}},
			Ended:     &zimfarm.NotificationTarget{Webhook: []string{webhook}},
		}
	}
	return schedule, nil
}

// scraperFlags merges the caller's flags with the ones the broker enforces.
func (s *RequestService) scraperFlags(target *url.URL, name, ident string, userFlags map[string]any) map[string]any {
	flags := make(map[string]any, len(userFlags)+10)
	for k, v := range userFlags {
		flags[k] = v
	}

	flags["seeds"] = target.String()
	if _, ok := flags["name"]; !ok {
		flags["name"] = name
	}
	zimFile, ok := flags["zim-file"].(string)
	if !ok {
		zimFile = target.Hostname()
	}
	flags["zim-file"] = zimFile + "_" + ident + ".zim"
	flags["userAgentSuffix"] = userAgentSuffix
	flags["failOnFailedSeed"] = true
	flags["failOnInvalidStatus"] = true
	flags["content-header-bytes-length"] = contentHeaderSize
	flags["maxPageRetries"] = 0

	for _, flag := range droppedFlags {
		delete(flags, flag)
	}

	sizeLimit, ok := toInt64(flags["sizeSoftLimit"])
	if !ok {
		sizeLimit = s.cfg.SizeLimit
	}
	flags["sizeSoftLimit"] = strconv.FormatInt(capLimit(sizeLimit, s.cfg.SizeLimit), 10)

	timeLimit, ok := toInt64(flags["timeSoftLimit"])
	if !ok {
		timeLimit = s.cfg.TimeLimit
	}
	flags["timeSoftLimit"] = capLimit(timeLimit, s.cfg.TimeLimit)

	return flags
}

func (s *RequestService) webhookURL(email, lang string) string {
	query := url.Values{}
	query.Set("token", s.cfg.HookToken)
	query.Set("target", email)
	query.Set("lang", lang)
	return s.cfg.CallbackBaseURL + "?" + query.Encode()
}

// capLimit keeps a caller limit within (0, max]. Non-positive values would
// disable the limit, so they get max.
func capLimit(limit, max int64) int64 {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// toInt64 reads an integer flag sent as a JSON number or a string.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// splitImage splits "name:tag" on its last colon so registry ports survive.
func splitImage(image string) (string, string, bool) {
	i := strings.LastIndex(image, ":")
	if i <= 0 || i == len(image)-1 || strings.Contains(image[i+1:], "/") {
		return "", "", false
	}
	return image[:i], image[i+1:], true
}
