// Package moderation canonicalises user text and masks profanity before it
// is published or stored.
package moderation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var defaultWords = []string{
	"arse", "asshole", "bastard", "bitch", "bollocks", "bullshit", "crap",
	"cunt", "damn", "dick", "fuck", "motherfucker", "piss", "prick",
	"shit", "slut", "twat", "wanker", "whore",
}

// inflections lets "fucking" or "bitches" match their base word without
// substring matching, which would flag words like "class" or "scrap".
var inflections = []string{"", "s", "es", "ed", "er", "ers", "ing", "in", "y"}

type Options struct {
	ExtraWords []string
	Whitelist  []string
	Mask       string
}

// Normalizer is safe for concurrent use; it is immutable after construction.
type Normalizer struct {
	words     map[string]struct{}
	whitelist map[string]struct{}
	mask      string
	fold      cases.Caser
}

func NewNormalizer(opts Options) *Normalizer {
	n := &Normalizer{
		words:     make(map[string]struct{}),
		whitelist: make(map[string]struct{}),
		mask:      opts.Mask,
		fold:      cases.Fold(),
	}
	if n.mask == "" {
		n.mask = "*"
	}

	for _, w := range append(append([]string(nil), defaultWords...), opts.ExtraWords...) {
		if w = n.key(w); w != "" {
			n.words[w] = struct{}{}
		}
	}
	for _, w := range opts.Whitelist {
		if w = n.key(w); w != "" {
			n.whitelist[w] = struct{}{}
		}
	}
	return n
}

// Normalize replaces invalid UTF-8, applies NFKC and collapses runs of
// whitespace into single spaces.
func (n *Normalizer) Normalize(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	text = norm.NFKC.String(text)
	return strings.Join(strings.Fields(text), " ")
}

// Mask replaces every profane word with the mask repeated once per rune and
// reports whether anything was replaced.
func (n *Normalizer) Mask(text string) (string, bool) {
	var (
		b       strings.Builder
		flagged bool
		start   = -1
	)
	b.Grow(len(text))

	flush := func(end int) {
		word := text[start:end]
		if n.isProfane(word) {
			b.WriteString(strings.Repeat(n.mask, utf8.RuneCountInString(word)))
			flagged = true
		} else {
			b.WriteString(word)
		}
		start = -1
	}

	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			flush(i)
		}
		b.WriteRune(r)
	}
	if start >= 0 {
		flush(len(text))
	}

	return b.String(), flagged
}

// Clean normalises then masks text.
func (n *Normalizer) Clean(text string) (string, bool) {
	return n.Mask(n.Normalize(text))
}

func (n *Normalizer) isProfane(word string) bool {
	k := n.key(word)
	if _, ok := n.whitelist[k]; ok {
		return false
	}
	for _, suffix := range inflections {
		base, ok := strings.CutSuffix(k, suffix)
		if !ok || base == "" {
			continue
		}
		if _, hit := n.words[base]; hit {
			return true
		}
	}
	return false
}

func (n *Normalizer) key(word string) string {
	return n.fold.String(norm.NFKC.String(strings.TrimSpace(word)))
}
