package recognition

import (
	"github.com/MeKo-Tech/fieldscan/internal/fields"
)

// TextExtraction is what a text layer yields without any OCR call.
type TextExtraction struct {
	Screen     fields.Screen
	Candidates map[fields.Kind][]string
}

// ExtractText reads phone values straight from text that needs no
// recognition, such as the vector text of a PDF page. A document may list
// the serial and the IMEIs together, so both families are extracted and the
// screen only records how the text classifies.
func ExtractText(text string) TextExtraction {
	screen, _ := ClassifyPhone(text)
	out := TextExtraction{Screen: screen, Candidates: make(map[fields.Kind][]string)}
	if screen == fields.ScreenNone {
		return out
	}
	if vs := fields.Extract(fields.Serial, text); len(vs) > 0 {
		out.Candidates[fields.Serial] = vs
	}
	splitIMEIs(text, out.Candidates)
	return out
}
