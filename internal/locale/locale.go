// Package locale loads the spoken prompts of the skill, keyed by locale.
// A regional locale ("en-GB") only needs to list the prompts that differ
// from its base language ("en").
package locale

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts/*.yaml
var embedded embed.FS

// Key identifies a localized prompt.
type Key string

// Prompt keys.
const (
	SkillName       Key = "SKILL_NAME"
	Welcome         Key = "WELCOME"
	Help            Key = "HELP"
	Goodbye         Key = "GOODBYE"
	TaskCreated     Key = "TASK_CREATED"
	TaskCount1      Key = "TASK_COUNT_1"
	TaskCount2      Key = "TASK_COUNT_2"
	TaskCountOne    Key = "TASK_COUNT_ONE"
	TaskList        Key = "TASK_LIST"
	TaskListEmpty   Key = "TASK_LIST_EMPTY"
	TaskNameMissing Key = "TASK_NAME_MISSING"
	ErrorUnknown    Key = "ERROR_UNKNOWN"
	ErrorNotLinked  Key = "ERROR_NOT_LINKED"
	ErrorGeneric    Key = "ERROR_GENERIC"
	Fallback        Key = "FALLBACK"
)

// FallbackLocale is consulted for any prompt a locale does not define.
const FallbackLocale = "en"

// Catalog holds the prompts of every known locale. It is read-only after
// Load and safe for concurrent use.
type Catalog struct {
	locales map[string]map[Key]string
}

// Load reads the embedded prompts and, when dir is not empty, overlays
// every <locale>.yaml found in dir on top of them.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{locales: make(map[string]map[Key]string)}

	if err := c.loadFS(embedded, "prompts"); err != nil {
		return nil, fmt.Errorf("loading embedded prompts: %w", err)
	}

	if dir != "" {
		if err := c.loadFS(os.DirFS(dir), "."); err != nil {
			return nil, fmt.Errorf("loading prompts from %s: %w", dir, err)
		}
	}

	if _, ok := c.locales[FallbackLocale]; !ok {
		return nil, fmt.Errorf("no prompts for fallback locale %q", FallbackLocale)
	}
	return c, nil
}

func (c *Catalog) loadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".yaml" {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}

		var prompts map[Key]string
		if err := yaml.Unmarshal(data, &prompts); err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}

		tag := Normalize(strings.TrimSuffix(name, ".yaml"))
		if c.locales[tag] == nil {
			c.locales[tag] = make(map[Key]string, len(prompts))
		}
		for k, v := range prompts {
			c.locales[tag][k] = v
		}
	}
	return nil
}

// Locales lists the locale tags with at least one prompt, sorted.
func (c *Catalog) Locales() []string {
	tags := make([]string, 0, len(c.locales))
	for tag := range c.locales {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

// For returns the prompts for locale: the fallback locale, overlaid by the
// base language, overlaid by the exact regional locale.
func (c *Catalog) For(locale string) Strings {
	tag := Normalize(locale)
	base, _, _ := strings.Cut(tag, "-")

	merged := make(map[Key]string)
	for _, layer := range []string{FallbackLocale, base, tag} {
		for k, v := range c.locales[layer] {
			merged[k] = v
		}
	}
	return Strings{locale: tag, prompts: merged}
}

// Normalize turns "en_gb" or "EN-gb" into "en-GB".
func Normalize(locale string) string {
	locale = strings.TrimSpace(strings.ReplaceAll(locale, "_", "-"))
	lang, region, found := strings.Cut(locale, "-")
	lang = strings.ToLower(lang)
	if !found || region == "" {
		return lang
	}
	return lang + "-" + strings.ToUpper(region)
}

// Strings is the resolved prompt set of one locale.
type Strings struct {
	locale  string
	prompts map[Key]string
}

// Locale returns the normalized locale tag the set was resolved for.
func (s Strings) Locale() string {
	return s.locale
}

// Get returns the prompt for k, or the key itself when no locale defines it.
func (s Strings) Get(k Key) string {
	if v, ok := s.prompts[k]; ok {
		return v
	}
	return string(k)
}
