package models

import (
	"strings"
)

const (
	SlugWordLimit = 10
	SlugMaxLen    = 96
)

// stopWords are filler words dropped from slugs.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "such": true, "that": true, "the": true,
	"their": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "to": true, "was": true, "will": true, "with": true,
}

var accentMap = map[rune]rune{
	'á': 'a', 'à': 'a', 'ã': 'a', 'â': 'a', 'ä': 'a', 'å': 'a', 'ā': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e', 'ē': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i', 'ī': 'i',
	'ó': 'o', 'ò': 'o', 'õ': 'o', 'ô': 'o', 'ö': 'o', 'ø': 'o', 'ō': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u', 'ū': 'u',
	'ç': 'c', 'ć': 'c', 'č': 'c',
	'ñ': 'n', 'ń': 'n',
	'ý': 'y', 'ÿ': 'y',
	'ß': 's',
}

// Slugify derives a url slug from a post title: transliterate to ascii,
// lower-case, drop punctuation, discard stop words, keep the first
// SlugWordLimit words, join with hyphens and truncate. Falls back to "post"
// when nothing survives. A non-empty prefix is prepended as its own word,
// callers use a random prefix to resolve slug collisions.
func Slugify(title, prefix string) string {
	lowered := strings.Map(func(r rune) rune {
		if folded, ok := accentMap[r]; ok {
			return folded
		}
		return r
	}, strings.ToLower(title))

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '\t' || r == '\n':
			return ' '
		default:
			return -1
		}
	}, lowered)

	var words []string
	for _, word := range strings.Fields(cleaned) {
		if stopWords[word] {
			continue
		}
		words = append(words, word)
		if len(words) == SlugWordLimit {
			break
		}
	}

	if prefix != "" {
		words = append([]string{prefix}, words...)
	}

	slug := strings.Join(words, "-")
	if len(slug) > SlugMaxLen {
		slug = slug[:SlugMaxLen]
	}
	slug = strings.Trim(slug, "-")

	if slug == "" {
		return "post"
	}

	return slug
}
