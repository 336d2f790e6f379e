package processor

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/quill/internal/note"
)

const (
	titleMinChars = 5
	titleMaxChars = 50
	titleWords    = 8
)

var titleMarkers = strings.NewReplacer("#", "", "*", "", "`", "")

// ExtractTitle derives a title from raw text. The result is never empty and
// never longer than 50 runes.
func ExtractTitle(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return note.UntitledTitle
	}

	firstLine, _, _ := strings.Cut(text, "\n")
	firstLine = strings.TrimSpace(firstLine)
	if n := utf8.RuneCountInString(firstLine); n > titleMinChars && n <= titleMaxChars {
		if title := strings.TrimSpace(titleMarkers.Replace(firstLine)); title != "" {
			return title
		}
	}

	words := strings.Fields(text)
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	title := strings.Join(words, " ")
	if utf8.RuneCountInString(title) > titleMaxChars {
		title = string([]rune(title)[:titleMaxChars-3]) + "..."
	}
	return title
}

type languageRule struct {
	lang  string
	match func(text string) bool
}

func containsAll(subs ...string) func(string) bool {
	return func(text string) bool {
		for _, s := range subs {
			if !strings.Contains(text, s) {
				return false
			}
		}
		return true
	}
}

// languageRules are evaluated in order; the first match wins.
var languageRules = []languageRule{
	{"cpp", containsAll("class ", "public:")},
	{"javascript", containsAll("function ", "{")},
	{"python", containsAll("def ", ":")},
	{"java", containsAll("public class ")},
	{"cpp", containsAll("#include")},
	{"php", containsAll("<?php")},
}

// PlainText is the language tag used when no rule matches.
const PlainText = "text"

// DetectLanguage guesses a code-fence language tag for text.
func DetectLanguage(text string) string {
	for _, r := range languageRules {
		if r.match(text) {
			return r.lang
		}
	}
	return PlainText
}

// LooksLikeCode reports whether any language rule matches text. Fencing
// follows languageRules exactly: "def x():" and "<?php" input is fenced,
// while prose that merely contains "class " or "function " without the
// rest of a rule stays plain.
func LooksLikeCode(text string) bool {
	return DetectLanguage(text) != PlainText
}

var codeBlockRegex = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*(.+?)\\s*```\\s*$")

// StripCodeFence removes a Markdown code fence wrapping the whole reply.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if matches := codeBlockRegex.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return s
}

// fenced renders text as a titled, language-tagged code block.
func fenced(title, text string) string {
	return "# " + title + "\n\n```" + DetectLanguage(text) + "\n" + text + "\n```"
}
