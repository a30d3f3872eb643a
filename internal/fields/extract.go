package fields

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var (
	alnumRun  = regexp.MustCompile(`[A-Z0-9]+`)
	imeiGroup = regexp.MustCompile(`\d{2} ?\d{6} ?\d{6} ?\d`)
	digitRun  = regexp.MustCompile(`\d+`)
	datePat   = regexp.MustCompile(`(\d{1,2})\s+([A-Za-z]{3,})\.?\s+(\d{4})`)
	laserPat  = regexp.MustCompile(`\d{4}\s?-?\s?\d{2}\s?-?\s?\d{8}`)
	spaceRun  = regexp.MustCompile(`\s+`)
)

// Extract returns the syntactically valid candidates for k found in raw.
// It never fails; no match yields an empty slice.
func Extract(k Kind, raw string) []string {
	text := Normalize(raw)
	switch k {
	case Serial:
		return ExtractSerials(text)
	case IMEI, IMEI2:
		return ExtractIMEIs(text)
	case IDNumber:
		return one(extractIDNumber(text))
	case FirstName, LastName:
		return one(extractName(text))
	case DateOfBirth, DateOfIssue, DateOfExpiry:
		return one(extractDate(text))
	case LaserCode:
		return one(extractLaserCode(text))
	default:
		return nil
	}
}

// Normalize folds compatibility and full-width forms so that the patterns
// only have to deal with ASCII digits and letters.
func Normalize(raw string) string {
	return width.Fold.String(norm.NFKC.String(raw))
}

func one(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

// ExtractSerials finds maximal runs of 10 to 12 uppercase letters and digits.
// A run of exactly 15 digits is an IMEI and never a serial.
func ExtractSerials(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, run := range alnumRun.FindAllString(text, -1) {
		if len(run) == 15 && isDigits(run) {
			continue
		}
		if len(run) < 10 || len(run) > 12 || seen[run] {
			continue
		}
		seen[run] = true
		out = append(out, run)
	}
	return out
}

// ExtractIMEIs finds 15-digit numbers written bare or grouped 2-6-6-1 with
// single spaces. Matches touching further digits are rejected.
func ExtractIMEIs(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, loc := range imeiGroup.FindAllStringIndex(text, -1) {
		if loc[0] > 0 && isDigit(text[loc[0]-1]) {
			continue
		}
		if loc[1] < len(text) && isDigit(text[loc[1]]) {
			continue
		}
		v := NormalizeIMEI(text[loc[0]:loc[1]])
		if len(v) != 15 || !isDigits(v) || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// NormalizeIMEI strips all whitespace.
func NormalizeIMEI(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// ValidIMEI applies the Luhn check to a 15-digit IMEI: every second digit
// from index 1 is doubled (minus 9 above 9), and the check digit must equal
// (10 - sum mod 10) mod 10 over the first 14 digits.
func ValidIMEI(s string) bool {
	if len(s) != 15 || !isDigits(s) {
		return false
	}
	sum := 0
	for i := 0; i < 14; i++ {
		d := int(s[i] - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return (10-sum%10)%10 == int(s[14]-'0')
}

// FormatIMEI groups a normalized IMEI as "NN NNNNNN NNNNNN N" for display.
// Anything else is returned unchanged.
func FormatIMEI(s string) string {
	v := NormalizeIMEI(s)
	if len(v) != 15 || !isDigits(v) {
		return s
	}
	return v[:2] + " " + v[2:8] + " " + v[8:14] + " " + v[14:]
}

// Format renders a confirmed value for display.
func Format(k Kind, v string) string {
	if k == IMEI || k == IMEI2 {
		return FormatIMEI(v)
	}
	return v
}

func extractIDNumber(text string) string {
	for _, run := range digitRun.FindAllString(joinDigitGroups(text), -1) {
		if len(run) == 13 {
			return run
		}
	}
	return ""
}

// joinDigitGroups removes whitespace between two digits.
func joinDigitGroups(text string) string {
	var b strings.Builder
	rs := []rune(text)
	for i := 0; i < len(rs); i++ {
		if unicode.IsSpace(rs[i]) && b.Len() > 0 && unicode.IsDigit(rs[i-1]) {
			j := i
			for j < len(rs) && unicode.IsSpace(rs[j]) {
				j++
			}
			if j < len(rs) && unicode.IsDigit(rs[j]) {
				i = j - 1
				continue
			}
		}
		b.WriteRune(rs[i])
	}
	return b.String()
}

var nameNoise = map[string]bool{
	"SURNAME": true, "NAMES": true, "NAME": true, "FORENAMES": true, "FORENAME": true,
	"FIRST": true, "LAST": true, "GIVEN": true, "MR": true, "MRS": true, "MS": true,
	"MISS": true, "DR": true,
}

func extractName(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), r == '-', r == '\'':
			return unicode.ToUpper(r)
		default:
			return ' '
		}
	}, text)

	var words []string
	for _, w := range strings.Fields(cleaned) {
		w = strings.Trim(w, "-'")
		if w == "" || nameNoise[w] {
			continue
		}
		words = append(words, w)
	}
	name := strings.Join(words, " ")
	if len([]rune(strings.ReplaceAll(name, " ", ""))) < 2 {
		return ""
	}
	return name
}

func extractDate(text string) string {
	m := datePat.FindStringSubmatch(spaceRun.ReplaceAllString(text, " "))
	if m == nil {
		return ""
	}
	day, err := strconv.Atoi(m[1])
	if err != nil || day < 1 || day > 31 {
		return ""
	}
	return fmt.Sprintf("%02d %s %s", day, strings.ToUpper(m[2]), m[3])
}

func extractLaserCode(text string) string {
	for _, loc := range laserPat.FindAllStringIndex(text, -1) {
		if loc[0] > 0 && isDigit(text[loc[0]-1]) {
			continue
		}
		if loc[1] < len(text) && isDigit(text[loc[1]]) {
			continue
		}
		d := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, text[loc[0]:loc[1]])
		return d[:4] + "-" + d[4:6] + "-" + d[6:]
	}
	return ""
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
