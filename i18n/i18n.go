package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// Locales holds the bundled translation files, one <lang>.json per language.
//
//go:embed *.json
var Locales embed.FS

var DefaultLang = "en"

var (
	mu           sync.RWMutex
	translations = make(map[string]map[string]string)
	languages    []string
	matcher      language.Matcher
)

// LoadTranslations reads every top-level .json file of fsys. The file name
// without extension is the language code. Loaded languages replace any
// previously loaded ones.
func LoadTranslations(fsys fs.FS) error {
	files, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return err
	}

	loaded := make(map[string]map[string]string, len(files))
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		var t map[string]string
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		loaded[strings.TrimSuffix(path.Base(name), ".json")] = t
	}
	if _, ok := loaded[DefaultLang]; !ok {
		return fmt.Errorf("missing translations for default language %q", DefaultLang)
	}

	// The default goes first so the matcher falls back to it.
	langs := []string{DefaultLang}
	for lang := range loaded {
		if lang != DefaultLang {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs[1:])

	tags := make([]language.Tag, 0, len(langs))
	for _, lang := range langs {
		tag, err := language.Parse(lang)
		if err != nil {
			return fmt.Errorf("language %q: %w", lang, err)
		}
		tags = append(tags, tag)
	}

	mu.Lock()
	defer mu.Unlock()
	translations = loaded
	languages = langs
	matcher = language.NewMatcher(tags)
	return nil
}

// Languages lists the loaded language codes, default first.
func Languages() []string {
	mu.RLock()
	defer mu.RUnlock()
	return append([]string(nil), languages...)
}

func Supported(lang string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := translations[lang]
	return ok
}

func T(lang, key string) string {
	mu.RLock()
	t, ok := translations[lang]
	var val string
	if ok {
		val, ok = t[key]
	}
	mu.RUnlock()
	if ok {
		return val
	}
	// Fallback to the default language
	if lang != DefaultLang {
		return T(DefaultLang, key)
	}
	return key
}

// DetectLanguage picks, in order: a supported ?lang= query value, the stored
// preference, the best Accept-Language match, the default.
func DetectLanguage(r *http.Request, preferred string) string {
	if lang := r.URL.Query().Get("lang"); lang != "" && Supported(lang) {
		return lang
	}
	if preferred != "" && Supported(preferred) {
		return preferred
	}

	accept := r.Header.Get("Accept-Language")
	if accept == "" {
		return DefaultLang
	}
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return DefaultLang
	}

	mu.RLock()
	defer mu.RUnlock()
	if matcher == nil {
		return DefaultLang
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return DefaultLang
	}
	return languages[idx]
}
