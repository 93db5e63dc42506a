package notify

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// defaultLanguage is used for unsupported languages and missing keys.
var defaultLanguage = language.English

// rtlLanguages are written right to left.
var rtlLanguages = map[string]bool{"fa": true, "he": true}

// catalog maps message keys to translations with {name} placeholders.
type catalog map[string]string

// Translations holds every embedded locale.
type Translations struct {
	tags     []language.Tag
	catalogs []catalog
	matcher  language.Matcher
}

// LoadTranslations parses the embedded locales. English is always first, so
// it is what the matcher falls back to.
func LoadTranslations() (*Translations, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("failed to list locales: %w", err)
	}

	tr := &Translations{}
	var fallback catalog
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".json")
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("invalid locale file name %q: %w", entry.Name(), err)
		}
		data, err := localeFS.ReadFile(path.Join("locales", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read locale %s: %w", name, err)
		}
		var messages catalog
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, fmt.Errorf("invalid locale %s: %w", name, err)
		}

		if tag == defaultLanguage {
			fallback = messages
			continue
		}
		tr.tags = append(tr.tags, tag)
		tr.catalogs = append(tr.catalogs, messages)
	}
	if fallback == nil {
		return nil, fmt.Errorf("missing %s locale", defaultLanguage)
	}

	tr.tags = append([]language.Tag{defaultLanguage}, tr.tags...)
	tr.catalogs = append([]catalog{fallback}, tr.catalogs...)
	tr.matcher = language.NewMatcher(tr.tags)
	return tr, nil
}

// Localizer translates messages into one language.
type Localizer struct {
	Tag      language.Tag
	RTL      bool
	messages catalog
	fallback catalog
}

// Localizer returns the best match for lang, an IETF language tag such as
// "fr" or "pt-BR". Unknown or malformed tags fall back to English.
func (tr *Translations) Localizer(lang string) *Localizer {
	requested, err := language.Parse(lang)
	if err != nil {
		requested = defaultLanguage
	}
	_, idx, _ := tr.matcher.Match(requested)

	base, _ := requested.Base()
	return &Localizer{
		Tag:      tr.tags[idx],
		RTL:      rtlLanguages[base.String()],
		messages: tr.catalogs[idx],
		fallback: tr.catalogs[0],
	}
}

// T returns the translation of key with {name} placeholders replaced by the
// name/value pairs in args. Missing keys fall back to English, then to the key.
func (l *Localizer) T(key string, args ...string) string {
	message, ok := l.messages[key]
	if !ok {
		message, ok = l.fallback[key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return message
	}

	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "{"+args[i]+"}", args[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(message)
}
