package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// emailData is the context of the mail templates.
type emailData struct {
	Lang         string
	RTL          bool
	Subject      string
	Status       string
	TaskID       string
	URL          string
	StatusURL    string
	ContactUsURL string
	SizeLimit    int64
	TimeLimit    int64
	Files        []emailFile
}

type emailFile struct {
	Name string
	Size int64
	URL  string
}

// Renderer renders notification mails from the embedded templates.
type Renderer struct {
	translations *Translations
	subject      *texttemplate.Template
	body         *htmltemplate.Template
}

// baseFuncs are shared by both templates; "t" is bound per render.
func baseFuncs() map[string]any {
	return map[string]any{
		"t":              func(key string, args ...string) string { return key },
		"shortID":        shortID,
		"formatSize":     formatSize,
		"formatTimespan": formatTimespan,
	}
}

// NewRenderer parses the embedded templates.
func NewRenderer(translations *Translations) (*Renderer, error) {
	subject, err := texttemplate.New("email_subject.txt.tmpl").
		Funcs(baseFuncs()).
		ParseFS(templateFS, "templates/email_subject.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse subject template: %w", err)
	}
	body, err := htmltemplate.New("email_body.html.tmpl").
		Funcs(baseFuncs()).
		ParseFS(templateFS, "templates/email_body.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse body template: %w", err)
	}
	return &Renderer{translations: translations, subject: subject, body: body}, nil
}

// render returns the subject and HTML body of a mail in the language of loc.
func (r *Renderer) render(loc *Localizer, data emailData) (string, string, error) {
	funcs := map[string]any{"t": loc.T}

	subjectTmpl, err := r.subject.Clone()
	if err != nil {
		return "", "", fmt.Errorf("failed to clone subject template: %w", err)
	}
	var subject bytes.Buffer
	if err := subjectTmpl.Funcs(funcs).Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("failed to render subject: %w", err)
	}
	data.Subject = strings.Join(strings.Fields(subject.String()), " ")

	bodyTmpl, err := r.body.Clone()
	if err != nil {
		return "", "", fmt.Errorf("failed to clone body template: %w", err)
	}
	var body bytes.Buffer
	if err := bodyTmpl.Funcs(funcs).Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to render body: %w", err)
	}
	return data.Subject, body.String(), nil
}

// taskFiles lists the files of task, oldest first, with their download URL.
func taskFiles(task *zimfarm.Task, downloadURL string) []emailFile {
	files := make([]emailFile, 0, len(task.Files))
	created := make(map[string]string, len(task.Files))
	for key, file := range task.Files {
		name := file.Name
		if name == "" {
			name = key
		}
		created[name] = file.CreatedTimestamp
		files = append(files, emailFile{
			Name: name,
			Size: file.Size,
			URL:  downloadURL + task.Config.WarehousePath + "/" + name,
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if created[files[i].Name] != created[files[j].Name] {
			return created[files[i].Name] < created[files[j].Name]
		}
		return files[i].Name < files[j].Name
	})
	return files
}

func shortID(id string) string {
	if len(id) <= 5 {
		return id
	}
	return id[:5]
}

func formatSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}

func formatTimespan(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}
