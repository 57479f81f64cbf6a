package naming

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var march2025 = time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "Bob", "Bob 03/25"},
		{"whitespace collapsed", "  Bob \t  Marley  ", "Bob Marley 03/25"},
		{"emoji stripped", "🎉Dana🎉 ✨", "Dana 03/25"},
		{"leading digits stripped", "0521234567 Moshe", "Moshe 03/25"},
		{"edge punctuation trimmed", "--.Ruth Cohen..,", "Ruth Cohen 03/25"},
		{"repeated punctuation collapsed", "Avi...Levi", "Avi.Levi 03/25"},
		{"denylist inside", "Yossi@Home#1", "Yossi Home 1 03/25"},
		{"hebrew kept", "שרה לוי", "שרה לוי 03/25"},
		{"numeric only falls back", "12345", "Guest 03/25"},
		{"symbols only fall back", "!!!***", "Guest 03/25"},
		{"single letter falls back", "A 1", "Guest 03/25"},
		{"empty falls back", "", "Guest 03/25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw, "Guest", march2025))
		})
	}
}

func TestSanitize_LengthCap(t *testing.T) {
	raw := strings.Repeat("abcdefghij ", 10)
	got := Sanitize(raw, "Guest", march2025)
	name := strings.TrimSuffix(got, " 03/25")
	assert.LessOrEqual(t, utf8.RuneCountInString(name), MaxNameLength)
	assert.False(t, strings.HasSuffix(name, " "))
}

func TestSanitize_Properties(t *testing.T) {
	inputs := []string{
		"", " ", "...", "--Bob--", "Bob!!!", "007 James Bond", "😀😀😀", "a", "ab", "1a2b3c",
		"מיכל ☎️ 054-1234567", strings.Repeat("x.", 40), "''Dana''", "Ödön Horváth", "🙂 Li",
	}
	for _, in := range inputs {
		got := Sanitize(in, "Guest", march2025)
		require.True(t, strings.HasSuffix(got, " 03/25"), "input %q", in)
		name := strings.TrimSuffix(got, " 03/25")
		assert.LessOrEqual(t, utf8.RuneCountInString(name), MaxNameLength, "input %q", in)
		assert.True(t, hasLetterPair(name) || name == "Guest", "input %q produced %q", in, name)
		first, _ := utf8.DecodeRuneInString(name)
		last, _ := utf8.DecodeLastRuneInString(name)
		assert.False(t, isDenied(first) || strings.ContainsRune(edgePunct, first), "input %q starts with %q", in, first)
		assert.False(t, isDenied(last) || strings.ContainsRune(edgePunct, last), "input %q ends with %q", in, last)
	}
}

func TestLabelName(t *testing.T) {
	assert.Equal(t, "Draw March 03/25", LabelName("Draw_March", march2025))
	assert.Equal(t, "Summer Sale 03/25", LabelName("  Summer__Sale ", march2025))
	assert.Equal(t, "Campaign 03/25", LabelName("___", march2025))
}

func TestUnique(t *testing.T) {
	existing := map[string]bool{"Bob 03/25": true, "Bob 03/25 (2)": true}
	got, err := Unique("Bob 03/25", func(s string) (bool, error) { return existing[s], nil })
	require.NoError(t, err)
	assert.Equal(t, "Bob 03/25 (3)", got)

	got, err = Unique("Dana 03/25", func(string) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Equal(t, "Dana 03/25", got)
}

func TestUnique_BoundedAttempts(t *testing.T) {
	calls := 0
	got, err := Unique("Bob", func(string) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, MaxUniqueAttempts+1, calls)
	assert.Equal(t, fmt.Sprintf("Bob (%d)", MaxUniqueAttempts+1), got)
}

func TestUnique_LookupErrorStops(t *testing.T) {
	boom := errors.New("lookup failed")
	calls := 0
	_, err := Unique("Bob", func(s string) (bool, error) {
		calls++
		if s == "Bob (3)" {
			return false, boom
		}
		return true, nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestPhoneHelpers(t *testing.T) {
	assert.Equal(t, "0521234567", Digits("052-123 4567"))
	assert.Equal(t, "521234567", Last9("+972 52-123-4567"))
	assert.Equal(t, "12345", Last9("12345"))
	assert.True(t, SamePhone("+972521234567", "052-1234567"))
	assert.False(t, SamePhone("0521234567", "0521234568"))
	assert.False(t, SamePhone("", ""))
}
