// Package blacklist refuses capture requests for URLs the operators listed.
//
// The list is a headerless CSV of url_regex,reason_key rows fetched from a URL.
// A regex matches when it matches at the start of the requested URL; the first
// matching row wins. Reason keys are translation keys shown to the user.
package blacklist

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrEmptyList is returned when the fetched list has no content. The current
// list is kept.
var ErrEmptyList = errors.New("blacklist is empty")

// Entry is one blacklisted URL pattern.
type Entry struct {
	Pattern   *regexp.Regexp
	ReasonKey string
}

// Manager holds the current blacklist. It is safe for concurrent use; a
// refresh replaces the whole list atomically.
type Manager struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries uint64

	entries atomic.Pointer[[]Entry]
}

// NewManager creates a Manager with an empty list. An empty url disables
// Refresh; nothing is ever blacklisted then.
func NewManager(url string, timeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := &Manager{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "blacklist"),
		maxRetries: 2,
	}
	m.entries.Store(&[]Entry{})
	return m
}

// Enabled reports whether a source URL is configured.
func (m *Manager) Enabled() bool {
	return m.url != ""
}

// Reason returns the reason key of the first entry matching url.
func (m *Manager) Reason(url string) (string, bool) {
	for _, entry := range *m.entries.Load() {
		if entry.Pattern.MatchString(url) {
			return entry.ReasonKey, true
		}
	}
	return "", false
}

// Len returns the number of entries in the current list.
func (m *Manager) Len() int {
	return len(*m.entries.Load())
}

// Replace installs entries as the current list.
func (m *Manager) Replace(entries []Entry) {
	m.entries.Store(&entries)
}

// Refresh fetches the list from the configured URL and installs it. On any
// error the current list is kept.
func (m *Manager) Refresh(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}

	var body []byte
	fetch := func() error {
		var err error
		body, err = m.fetch(ctx)
		return err
	}
	bkoff := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.maxRetries), ctx)
	if err := backoff.Retry(fetch, bkoff); err != nil {
		m.logger.WarnContext(ctx, "error fetching blacklist", "url", m.url, "error", err)
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		m.logger.WarnContext(ctx, "empty content in blacklist", "url", m.url)
		return ErrEmptyList
	}

	entries, err := Parse(bytes.NewReader(body))
	if err != nil {
		m.logger.WarnContext(ctx, "invalid blacklist", "url", m.url, "error", err)
		return err
	}
	m.Replace(entries)
	m.logger.InfoContext(ctx, "urls have been loaded into blacklist", "count", len(entries))
	return nil
}

func (m *Manager) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build blacklist request: %w", err))
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blacklist: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read blacklist: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("blacklist fetch returned HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	return body, nil
}

// Parse reads url_regex,reason_key rows. Blank lines are skipped; every other
// row must have both fields and a valid regular expression.
func Parse(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	var entries []Entry
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid blacklist row: %w", err)
		}
		expr, reason := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
		if expr == "" || reason == "" {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("invalid blacklist row on line %d: empty field", line)
		}
		// Anchored at the start of the URL only.
		pattern, err := regexp.Compile(`^(?:` + expr + `)`)
		if err != nil {
			return nil, fmt.Errorf("invalid blacklist pattern %q: %w", expr, err)
		}
		entries = append(entries, Entry{Pattern: pattern, ReasonKey: reason})
	}
	return entries, nil
}
