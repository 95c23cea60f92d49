// Package i18n localizes validation errors for API responses.
package i18n

import (
	"strings"

	"github.com/storyweave/karta/internal/chapter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var supported = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(supported)

// Messages use positional verbs: 1 chapter name, 2 chapter number.
var catalog = map[language.Tag]map[chapter.Code]string{
	language.English: {
		chapter.CodeChapterNotEmpty:        "Chapter %[1]q can not be deleted because its detail view still has content.",
		chapter.CodeAllChaptersDeleted:     "The chapter overview must keep at least one chapter.",
		chapter.CodeDuplicateChapterNumber: "Chapter number %[2]d is used more than once.",
		chapter.CodeDuplicateChapterID:     "Chapter %[1]q is listed more than once.",
		chapter.CodeMissingChapterID:       "Chapter %[1]q has no id.",
		chapter.CodeInvalidChapterNumber:   "Chapter %[1]q has the invalid number %[2]d.",
		chapter.CodeChapterStillExists:     "Chapter number %[2]d still exists, there is nothing to repair.",
	},
	language.German: {
		chapter.CodeChapterNotEmpty:        "Kapitel %[1]q kann nicht gelöscht werden, weil seine Detailansicht noch Inhalte hat.",
		chapter.CodeAllChaptersDeleted:     "Die Kapitelübersicht muss mindestens ein Kapitel behalten.",
		chapter.CodeDuplicateChapterNumber: "Die Kapitelnummer %[2]d wird mehrfach verwendet.",
		chapter.CodeDuplicateChapterID:     "Kapitel %[1]q ist mehrfach aufgeführt.",
		chapter.CodeMissingChapterID:       "Kapitel %[1]q hat keine ID.",
		chapter.CodeInvalidChapterNumber:   "Kapitel %[1]q hat die ungültige Nummer %[2]d.",
		chapter.CodeChapterStillExists:     "Die Kapitelnummer %[2]d existiert noch, es gibt nichts zu reparieren.",
	},
}

func init() {
	for tag, messages := range catalog {
		for code, msg := range messages {
			if err := message.SetString(tag, string(code), msg); err != nil {
				panic(err)
			}
		}
	}
}

// MatchAcceptLanguage picks the supported language for an Accept-Language
// header value, English when nothing matches.
func MatchAcceptLanguage(accept string) language.Tag {
	accept = strings.TrimSpace(accept)
	if accept == "" {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// Message renders verr in the given language.
func Message(tag language.Tag, verr *chapter.ValidationError) string {
	if _, ok := catalog[tag][verr.Code]; !ok {
		return verr.Error()
	}
	p := message.NewPrinter(tag)
	if verr.Code == chapter.CodeAllChaptersDeleted {
		return p.Sprintf(string(verr.Code))
	}
	return p.Sprintf(string(verr.Code), verr.ChapterName, verr.ChapterNumber)
}
