// Package slug derives URL-safe, unique identifiers from free text.
package slug

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultMaxAttempts bounds the number of candidates tried for one base.
	DefaultMaxAttempts = 1000

	// Fallback is the base used when text normalizes to nothing.
	Fallback = "post"
)

// ErrExhausted is returned when every candidate up to the attempt bound is taken.
var ErrExhausted = errors.New("slug candidates exhausted")

// Checker reports whether a candidate slug is already taken.
type Checker interface {
	SlugExists(ctx context.Context, candidate string) (bool, error)
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(ctx context.Context, candidate string) (bool, error)

func (f CheckerFunc) SlugExists(ctx context.Context, candidate string) (bool, error) {
	return f(ctx, candidate)
}

// Letters without a canonical decomposition, so NFD cannot strip them.
var specialLetters = map[rune]string{
	'ß': "ss", 'æ': "ae", 'œ': "oe", 'ø': "o", 'đ': "d", 'ð': "d",
	'ł': "l", 'þ': "th", 'ı': "i",
}

// Cyrillic and Greek letters, looked up in lowercase before NFD runs so
// that letters like 'й' keep their own reading.
var scriptLetters = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "c", 'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "",
	'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
	'є': "ye", 'і': "i", 'ї': "yi", 'ґ': "g",

	'α': "a", 'β': "v", 'γ': "g", 'δ': "d", 'ε': "e", 'ζ': "z", 'η': "i",
	'θ': "th", 'ι': "i", 'κ': "k", 'λ': "l", 'μ': "m", 'ν': "n", 'ξ': "x",
	'ο': "o", 'π': "p", 'ρ': "r", 'σ': "s", 'ς': "s", 'τ': "t", 'υ': "y",
	'φ': "f", 'χ': "ch", 'ψ': "ps", 'ω': "o",
	'ά': "a", 'έ': "e", 'ή': "i", 'ί': "i", 'ό': "o", 'ύ': "y", 'ώ': "o",
	'ϊ': "i", 'ϋ': "y", 'ΐ': "i", 'ΰ': "y",
}

// Make normalizes text into a lowercase, hyphen-separated base slug.
// Accented Latin, Cyrillic and Greek letters are transliterated, '@' reads
// as "at", whitespace,
// '-' and '_' separate words and every other character is dropped.
// The result may be empty.
func Make(text string) string {
	var b strings.Builder
	for _, r := range text {
		lower := unicode.ToLower(r)
		if repl, ok := specialLetters[lower]; ok {
			b.WriteString(repl)
			continue
		}
		if repl, ok := scriptLetters[lower]; ok {
			b.WriteString(repl)
			continue
		}
		b.WriteRune(r)
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, err := transform.String(t, b.String())
	if err != nil {
		ascii = b.String()
	}
	ascii = strings.ToLower(ascii)

	var out strings.Builder
	pendingSep := false
	for _, r := range ascii {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && out.Len() > 0 {
				out.WriteByte('-')
			}
			pendingSep = false
			out.WriteRune(r)
		case r == '@':
			if out.Len() > 0 {
				out.WriteByte('-')
			}
			out.WriteString("at")
			pendingSep = true
		case r == '-' || r == '_' || unicode.IsSpace(r):
			pendingSep = true
		}
	}

	return out.String()
}

// Candidate returns the n-th candidate for base: base itself for 0,
// base-n otherwise.
func Candidate(base string, n int) string {
	if n == 0 {
		return base
	}
	return base + "-" + strconv.Itoa(n)
}

type Generator struct {
	maxAttempts int
}

// New returns a Generator trying at most maxAttempts candidates per call.
// Non-positive values select DefaultMaxAttempts.
func New(maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{maxAttempts: maxAttempts}
}

// Generate derives a slug from text that exists does not report as taken.
// Candidates are tried in order base, base-1, base-2, ... No locking is
// performed: two concurrent callers may both see a candidate as free, so the
// store behind exists must reject duplicates on write.
func (g *Generator) Generate(ctx context.Context, text string, exists Checker) (string, error) {
	base := Make(text)
	if base == "" {
		base = Fallback
	}

	for n := 0; n < g.maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate := Candidate(base, n)
		taken, err := exists.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %q after %d attempts", ErrExhausted, base, g.maxAttempts)
}

// GenerateUniqueSlug runs a default Generator with a plain existence predicate.
func GenerateUniqueSlug(text string, exists func(candidate string) bool) string {
	s, err := New(0).Generate(context.Background(), text, CheckerFunc(func(_ context.Context, c string) (bool, error) {
		return exists(c), nil
	}))
	if err != nil {
		return ""
	}
	return s
}
