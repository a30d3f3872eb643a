package recognition

import (
	"strings"

	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/geometry"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
)

var (
	serialKeywords = []string{"serial"}
	imeiKeywords   = []string{"imei"}
	cardKeywords   = []string{"identity", "surname", "date of birth", "id no", "identity number", "republic"}
)

// keywordIndex returns the earliest position of any keyword in lower, and
// which keyword matched there.
func keywordIndex(lower string, keywords []string) (int, string) {
	best, which := -1, ""
	for _, k := range keywords {
		if i := strings.Index(lower, k); i >= 0 && (best < 0 || i < best) {
			best, which = i, k
		}
	}
	return best, which
}

// ClassifyPhone decides between the serial and IMEI screens. When both
// keyword families appear, the screen whose value pattern is present alone
// wins; otherwise the keyword occurring first in the text wins. The second
// result is the keyword to locate.
func ClassifyPhone(text string) (fields.Screen, string) {
	lower := strings.ToLower(fields.Normalize(text))
	si, sk := keywordIndex(lower, serialKeywords)
	ii, ik := keywordIndex(lower, imeiKeywords)

	switch {
	case si < 0 && ii < 0:
		return fields.ScreenNone, ""
	case ii < 0:
		return fields.ScreenSerial, sk
	case si < 0:
		return fields.ScreenIMEI, ik
	}

	hasSerial := len(fields.Extract(fields.Serial, text)) > 0
	hasIMEI := len(fields.Extract(fields.IMEI, text)) > 0
	switch {
	case hasIMEI && !hasSerial:
		return fields.ScreenIMEI, ik
	case hasSerial && !hasIMEI:
		return fields.ScreenSerial, sk
	case ii < si:
		return fields.ScreenIMEI, ik
	default:
		return fields.ScreenSerial, sk
	}
}

// ClassifyCard reports whether text looks like the front of an ID card.
func ClassifyCard(text string) bool {
	i, _ := keywordIndex(strings.ToLower(fields.Normalize(text)), cardKeywords)
	return i >= 0
}

// LocateKeyword returns the box of the first line containing keyword, or of
// the first word containing it when lines carry no geometry. Text is folded
// the same way as for classification.
func LocateKeyword(res *ocr.Result, keyword string) *geometry.Box {
	if keyword == "" {
		return nil
	}
	lines := res.Lines()
	for _, l := range lines {
		if l.Box.Empty() {
			continue
		}
		if containsFolded(l.Text, keyword) || wordsContain(l.Words, keyword) {
			b := l.Box
			return &b
		}
	}
	for _, l := range lines {
		for _, w := range l.Words {
			if !w.Box.Empty() && containsFolded(w.Text, keyword) {
				b := w.Box
				return &b
			}
		}
	}
	return nil
}

func wordsContain(words []ocr.Word, keyword string) bool {
	for _, w := range words {
		if containsFolded(w.Text, keyword) {
			return true
		}
	}
	return false
}

func containsFolded(text, keyword string) bool {
	return strings.Contains(strings.ToLower(fields.Normalize(text)), keyword)
}

// TextBounds returns the union of every line box, or nil without geometry.
func TextBounds(res *ocr.Result) *geometry.Box {
	var u geometry.Box
	for _, l := range res.Lines() {
		u = u.Union(l.Box)
	}
	if u.Empty() {
		return nil
	}
	return &u
}
