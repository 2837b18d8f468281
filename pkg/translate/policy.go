// Package translate decides whether a message needs translating for its
// reader and runs the translation out of band.
package translate

import (
	"strings"

	"golang.org/x/text/language"
)

// Profile is the set of languages a user reads.
type Profile struct {
	Known     []string `yaml:"known" json:"known"`
	Preferred string   `yaml:"preferred" json:"preferred"`
}

func parse(tag string) (language.Tag, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return language.Und, false
	}
	t, err := language.Parse(tag)
	if err != nil || t == language.Und {
		return language.Und, false
	}
	return t, true
}

// understands reports whether a reader of speaker can read alt.
func understands(speaker, alt language.Tag) bool {
	sb, _ := speaker.Base()
	ab, _ := alt.Base()
	if sb == ab {
		return true
	}
	return language.Comprehends(speaker, alt) >= language.High
}

func knows(known []string, src language.Tag) bool {
	for _, k := range known {
		if kt, ok := parse(k); ok && understands(kt, src) {
			return true
		}
	}
	return false
}

// Target picks the language to translate source into for a reader with
// the given languages. It returns false when the reader already understands
// source, or when source cannot be identified.
func Target(source string, known []string, preferred string) (string, bool) {
	src, ok := parse(source)
	if !ok || knows(known, src) {
		return "", false
	}
	if pt, ok := parse(preferred); ok && !understands(pt, src) {
		return strings.TrimSpace(preferred), true
	}
	for _, k := range known {
		if _, ok := parse(k); ok {
			return strings.TrimSpace(k), true
		}
	}
	return "", false
}

// CoveredBy reports whether every language the sender writes is one the
// recipient reads, in which case no detection is needed at all.
func CoveredBy(sender, recipient Profile) bool {
	langs := sender.Known
	if len(langs) == 0 {
		return false
	}
	for _, l := range langs {
		t, ok := parse(l)
		if !ok || !knows(recipient.Known, t) {
			return false
		}
	}
	return true
}
