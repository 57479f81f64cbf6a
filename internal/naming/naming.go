// Package naming builds the display names and label names written to the external directory.
package naming

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxNameLength caps the sanitized name, excluding the date suffix.
	MaxNameLength = 35
	// MaxUniqueAttempts bounds the " (n)" search in Unique.
	MaxUniqueAttempts = 1000
	DefaultFallback   = "Contact"
)

// denied are removed outright wherever they appear.
const denied = "!\"#$%&()*+/:;<=>?@[\\]^_`{|}~×÷§¶•©®™€£¥₪°"

// edgePunct survive inside a name but are collapsed when repeated and trimmed at the edges.
const edgePunct = ".,-'"

func isDenied(r rune) bool {
	if strings.ContainsRune(denied, r) {
		return true
	}
	if unicode.IsControl(r) {
		return true
	}
	// emoji, dingbats, pictographs and their modifiers
	if unicode.Is(unicode.So, r) || unicode.Is(unicode.Sk, r) || unicode.Is(unicode.Cs, r) || unicode.Is(unicode.Co, r) {
		return true
	}
	switch {
	case r == 0x200d, r == 0xfe0f, r == 0xfe0e:
		return true
	case r >= 0x1f000 && r <= 0x1faff:
		return true
	case r >= 0x2600 && r <= 0x27bf:
		return true
	}
	return false
}

func isEdge(r rune) bool {
	return strings.ContainsRune(edgePunct, r) || unicode.IsSpace(r)
}

func isLetter(r rune) bool {
	return unicode.Is(unicode.Hebrew, r) && unicode.IsLetter(r) || unicode.Is(unicode.Latin, r)
}

// hasLetterPair reports whether s has two consecutive Hebrew or Latin letters.
func hasLetterPair(s string) bool {
	prev := false
	for _, r := range s {
		cur := isLetter(r)
		if cur && prev {
			return true
		}
		prev = cur
	}
	return false
}

// DateSuffix is the MM/YY tag appended to names and labels.
func DateSuffix(now time.Time) string {
	return now.Format("01/06")
}

// Clean runs the sanitize pipeline without the fallback rule or date suffix.
func Clean(raw string) string {
	s := norm.NFC.String(raw)

	var b strings.Builder
	for _, r := range s {
		if isDenied(r) {
			b.WriteRune(' ')
			continue
		}
		if unicode.IsSpace(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	s = strings.Join(strings.Fields(b.String()), " ")

	s = strings.TrimLeftFunc(s, func(r rune) bool { return unicode.IsDigit(r) || isEdge(r) })
	s = strings.TrimRightFunc(s, isEdge)
	s = collapsePunct(s)

	runes := []rune(s)
	if len(runes) > MaxNameLength {
		s = strings.TrimRightFunc(string(runes[:MaxNameLength]), isEdge)
	}
	return s
}

// collapsePunct folds runs of the same edge punctuation ("..", "--") into one.
func collapsePunct(s string) string {
	var b strings.Builder
	var last rune
	for _, r := range s {
		if r == last && strings.ContainsRune(edgePunct, r) {
			continue
		}
		b.WriteRune(r)
		last = r
	}
	return b.String()
}

// Sanitize turns a raw registration name into the directory display name. A result
// without two consecutive letters is replaced by fallback.
func Sanitize(raw, fallback string, now time.Time) string {
	s := Clean(raw)
	if !hasLetterPair(s) {
		s = Clean(fallback)
		if s == "" {
			s = DefaultFallback
		}
	}
	return s + " " + DateSuffix(now)
}

// LabelName derives the contact group name of a campaign: "Draw_March" -> "Draw March 03/25".
func LabelName(campaign string, now time.Time) string {
	name := strings.Join(strings.Fields(strings.ReplaceAll(campaign, "_", " ")), " ")
	if name == "" {
		name = "Campaign"
	}
	return name + " " + DateSuffix(now)
}

// Unique appends " (n)" to base, n from 2, until taken reports false. After
// MaxUniqueAttempts the last candidate is returned. An error from taken stops the search.
func Unique(base string, taken func(string) (bool, error)) (string, error) {
	used, err := taken(base)
	if err != nil || !used {
		return base, err
	}
	candidate := base
	for n := 2; n < MaxUniqueAttempts+2; n++ {
		candidate = fmt.Sprintf("%s (%d)", base, n)
		used, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
	}
	return candidate, nil
}

// Digits strips everything but ASCII digits.
func Digits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Last9 returns the last nine digits of phone, the comparable part across country codes.
func Last9(phone string) string {
	d := Digits(phone)
	if len(d) > 9 {
		return d[len(d)-9:]
	}
	return d
}

// SamePhone is the loose match used for directory lookups.
func SamePhone(a, b string) bool {
	la, lb := Last9(a), Last9(b)
	return la != "" && la == lb
}
