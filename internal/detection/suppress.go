package detection

import (
	"regexp"
	"strings"
)

// A candidate is suppressed when the statement around it is stylesheet or
// markup syntax. The statement runs from the last ';', '{', '}' or newline
// before the match to the next one after it.
var (
	reCSSCustomProperty = regexp.MustCompile(`^\s*--[A-Za-z0-9_-]+\s*:`)
	reCSSDeclaration    = regexp.MustCompile(`(?i)^\s*(?:color|background(?:-color|-image)?|font(?:-family)?|border(?:-color)?|margin|padding|fill|stroke|box-shadow|text-shadow|outline|transform|transition|animation|grid-template-areas|mask)\s*:`)
	reVendorPrefixed    = regexp.MustCompile(`(?i)(?:^|[\s:,(])-(?:webkit|moz|ms|o)-[a-z-]+`)
	reMarkupAttribute   = regexp.MustCompile(`<[a-zA-Z][^<>]*\s[\w:.-]+\s*=\s*["'][^"']*$`)
	reStyleBlock        = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	reDataURI           = regexp.MustCompile(`data:[\w/+.-]+(?:;[\w=.-]+)*;base64,$`)
)

const (
	statementDelims = ";{}\n"
	// maxStatementRadius bounds the context inspected in minified single-line assets.
	maxStatementRadius = 512
)

type span struct {
	start, end int
}

func (s span) contains(pos int) bool {
	return pos >= s.start && pos < s.end
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// styleBlocks returns the spans of every <style> element of text.
func styleBlocks(text string) []span {
	var out []span
	for _, loc := range reStyleBlock.FindAllStringIndex(text, -1) {
		out = append(out, span{start: loc[0], end: loc[1]})
	}
	return out
}

// statementAround returns the statement enclosing [start,end) and the part of
// it that precedes the match.
func statementAround(text string, start, end int) (stmt, prefix string) {
	lo := start - maxStatementRadius
	if lo < 0 {
		lo = 0
	}
	if i := strings.LastIndexAny(text[lo:start], statementDelims); i >= 0 {
		lo = lo + i + 1
	}
	hi := end + maxStatementRadius
	if hi > len(text) {
		hi = len(text)
	}
	if i := strings.IndexAny(text[end:hi], statementDelims); i >= 0 {
		hi = end + i
	}
	return text[lo:hi], text[lo:start]
}

// markupPrefix returns the text between the last newline (bounded) and start.
func markupPrefix(text string, start int) string {
	lo := start - maxStatementRadius
	if lo < 0 {
		lo = 0
	}
	if i := strings.LastIndexByte(text[lo:start], '\n'); i >= 0 {
		lo = lo + i + 1
	}
	return text[lo:start]
}

// suppressed reports whether the match at [start,end) sits in stylesheet or
// markup context.
func suppressed(text string, start, end int, styles []span) bool {
	for _, s := range styles {
		if s.contains(start) {
			return true
		}
	}
	stmt, prefix := statementAround(text, start, end)
	switch {
	case reCSSCustomProperty.MatchString(stmt):
		return true
	case reCSSDeclaration.MatchString(stmt):
		return true
	case reVendorPrefixed.MatchString(prefix):
		return true
	}
	linePrefix := markupPrefix(text, start)
	if reMarkupAttribute.MatchString(linePrefix) || reDataURI.MatchString(linePrefix) {
		return true
	}
	return false
}

// lineContext returns the line holding the match, cut to radius bytes on
// each side, and the 1-based line number.
func lineContext(text string, start, end, radius int) (string, int) {
	lineStart := strings.LastIndexByte(text[:start], '\n') + 1
	lineEnd := len(text)
	if i := strings.IndexByte(text[end:], '\n'); i >= 0 {
		lineEnd = end + i
	}
	lo, hi := lineStart, lineEnd
	if start-lo > radius {
		lo = start - radius
	}
	if hi-end > radius {
		hi = end + radius
	}
	return text[lo:hi], strings.Count(text[:start], "\n") + 1
}
