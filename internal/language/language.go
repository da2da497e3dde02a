// Package language normalizes the free-form language hints subtitle sources
// emit ("English", "eng", "en-US", "Portuguese (Brazilian)") into short
// uppercase codes.
package language

import (
	"strings"
	"unicode/utf8"

	xlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Default is used when no language hint is available at all.
const Default = "EN"

const maxFallbackLen = 5

type entry struct {
	code2   string
	code3   string
	alt3    string
	display string
	words   []string
}

var languages = []entry{
	{"en", "eng", "", "English", []string{"english"}},
	{"es", "spa", "", "Spanish", []string{"spanish", "espanol", "español", "castellano"}},
	{"fr", "fra", "fre", "French", []string{"french", "français", "francais"}},
	{"de", "deu", "ger", "German", []string{"german", "deutsch"}},
	{"it", "ita", "", "Italian", []string{"italian", "italiano"}},
	{"pt", "por", "", "Portuguese", []string{"portuguese", "português"}},
	{"ru", "rus", "", "Russian", []string{"russian"}},
	{"ar", "ara", "", "Arabic", []string{"arabic"}},
	{"nl", "nld", "dut", "Dutch", []string{"dutch"}},
	{"pl", "pol", "", "Polish", []string{"polish"}},
	{"sl", "slv", "", "Slovenian", []string{"slovenian", "slovene", "slovenščina"}},
	{"hr", "hrv", "", "Croatian", []string{"croatian"}},
	{"sr", "srp", "", "Serbian", []string{"serbian"}},
	{"bs", "bos", "", "Bosnian", []string{"bosnian"}},
	{"el", "ell", "gre", "Greek", []string{"greek"}},
	{"tr", "tur", "", "Turkish", []string{"turkish"}},
	{"hu", "hun", "", "Hungarian", []string{"hungarian"}},
	{"ro", "ron", "rum", "Romanian", []string{"romanian"}},
	{"cs", "ces", "cze", "Czech", []string{"czech"}},
	{"bg", "bul", "", "Bulgarian", []string{"bulgarian"}},
	{"he", "heb", "", "Hebrew", []string{"hebrew"}},
	{"fa", "fas", "per", "Persian", []string{"persian", "farsi"}},
	{"sv", "swe", "", "Swedish", []string{"swedish"}},
	{"da", "dan", "", "Danish", []string{"danish"}},
	{"no", "nor", "", "Norwegian", []string{"norwegian"}},
	{"fi", "fin", "", "Finnish", []string{"finnish"}},
	{"ja", "jpn", "", "Japanese", []string{"japanese"}},
	{"ko", "kor", "", "Korean", []string{"korean"}},
	{"zh", "zho", "chi", "Chinese", []string{"chinese"}},
	{"vi", "vie", "", "Vietnamese", []string{"vietnamese"}},
	{"id", "ind", "", "Indonesian", []string{"indonesian"}},
	{"hi", "hin", "", "Hindi", []string{"hindi"}},
}

var (
	byCode2 map[string]*entry
	byCode3 map[string]*entry
	byWord  map[string]*entry
	// byName covers every language x/text can name in English.
	byName map[string]string
)

func init() {
	byCode2 = make(map[string]*entry, len(languages))
	byCode3 = make(map[string]*entry, len(languages)*2)
	byWord = make(map[string]*entry, len(languages)*2)
	for i := range languages {
		e := &languages[i]
		byCode2[e.code2] = e
		byCode3[e.code3] = e
		if e.alt3 != "" {
			byCode3[e.alt3] = e
		}
		for _, w := range e.words {
			byWord[w] = e
		}
	}

	namer := display.English.Languages()
	byName = make(map[string]string)
	for _, tag := range display.Supported.Tags() {
		base, _ := tag.Base()
		name := strings.ToLower(namer.Name(base))
		if name == "" {
			continue
		}
		if _, ok := byName[name]; !ok {
			byName[name] = base.String()
		}
	}
}

func lookup(s string) *entry {
	if e, ok := byCode2[s]; ok {
		return e
	}
	if e, ok := byCode3[s]; ok {
		return e
	}
	if e, ok := byWord[s]; ok {
		return e
	}
	return nil
}

// Normalize maps a language hint to a 2–5 letter uppercase code. Lookups run
// from exact code or name, to BCP 47 parsing, to a substring scan of known
// names; unknown input falls back to its first five characters uppercased.
// Empty input yields Default.
func Normalize(hint string) string {
	s := strings.ToLower(strings.TrimSpace(hint))
	if s == "" {
		return Default
	}
	if e := lookup(s); e != nil {
		return strings.ToUpper(e.code2)
	}
	if code, ok := byName[s]; ok {
		return strings.ToUpper(code)
	}
	if len(s) <= 8 && !strings.ContainsAny(s, " ()") {
		if tag, err := xlang.Parse(s); err == nil {
			if base, conf := tag.Base(); conf != xlang.No {
				if e := lookup(base.String()); e != nil {
					return strings.ToUpper(e.code2)
				}
				if code := base.String(); len(code) == 2 {
					return strings.ToUpper(code)
				}
			}
		}
	}
	for i := range languages {
		for _, w := range languages[i].words {
			if strings.Contains(s, w) {
				return strings.ToUpper(languages[i].code2)
			}
		}
	}
	return fallback(hint)
}

func fallback(hint string) string {
	s := strings.ToUpper(strings.TrimSpace(hint))
	if utf8.RuneCountInString(s) <= maxFallbackLen {
		return s
	}
	return string([]rune(s)[:maxFallbackLen])
}

// DisplayName returns the English name for a code, or the uppercased input.
func DisplayName(code string) string {
	s := strings.ToLower(strings.TrimSpace(code))
	if s == "" {
		return "Unknown"
	}
	if e := lookup(s); e != nil {
		return e.display
	}
	if tag, err := xlang.Parse(s); err == nil {
		if name := display.English.Languages().Name(tag); name != "" {
			return name
		}
	}
	return strings.ToUpper(s)
}

// IsEnglish reports whether hint normalizes to English.
func IsEnglish(hint string) bool {
	return Normalize(hint) == "EN"
}
