// Package parsers turns donor site pages into canonical rows and offers.
// Every parser is pure: markup in, values out, no I/O.
package parsers

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"deepagg/internal/domain"
)

// Source is a listing donor: how to build its search URL and read its page.
type Source struct {
	ID        string
	SearchURL func(query string) string
	Parse     func(html, sourceURL string) []domain.CanonicalRow
}

func DefaultSources() []Source {
	return []Source{
		{ID: SourcePromelec, SearchURL: PromelecSearchURL, Parse: ParsePromelecListing},
		{ID: SourceElectronshik, SearchURL: ElectronshikSearchURL, Parse: ParseElectronshikListing},
	}
}

var (
	whitespace = regexp.MustCompile(`\s+`)
	number     = regexp.MustCompile(`[\d.,]+`)
	mpnToken   = regexp.MustCompile(`(?i)[A-Z0-9\-_./]+`)
)

func blank(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// firstNumber reads the first number in s, accepting a comma decimal and
// spaces as thousand separators.
func firstNumber(s string) (float64, bool) {
	compact := whitespace.ReplaceAllString(s, "")
	compact = strings.ReplaceAll(compact, " ", "")
	match := number.FindString(compact)
	if match == "" {
		return 0, false
	}
	match = strings.Replace(match, ",", ".", 1)
	match = strings.TrimRight(match, ".")
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// guessMPN picks the longest identifier-looking token of a title.
func guessMPN(title string) string {
	tokens := mpnToken.FindAllString(title, -1)
	if len(tokens) == 0 {
		return ""
	}
	sort.SliceStable(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })
	return tokens[0]
}

func absoluteURL(href, base string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Host == "" {
		return ref.String()
	}
	return baseURL.ResolveReference(ref).String()
}

// labelledNumber finds the number following label inside text.
func labelledNumber(text, label string) (float64, bool) {
	idx := strings.Index(text, label)
	if idx < 0 {
		return 0, false
	}
	return firstNumber(text[idx+len(label):])
}

func parseDocument(html string) (*goquery.Document, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}
	return doc, true
}
