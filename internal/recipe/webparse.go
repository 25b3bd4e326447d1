package recipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/net/html"
)

// ErrNoContent is returned when a fetched page yields no meaningful recipe
// text after cleaning.
var ErrNoContent = errors.New("recipe: no meaningful recipe content found")

// DefaultUserAgent is sent on outbound fetches. Several recipe sites refuse
// requests without a browser-like user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// minRecipeLength is the minimum cleaned-text length accepted as a recipe.
const minRecipeLength = 50

// maxFetchBody caps how much of a page is read.
const maxFetchBody = 4 << 20

// WebParser extracts recipe text from web pages.
type WebParser struct {
	client    *http.Client
	userAgent string
}

// NewWebParser returns a WebParser. Zero timeout means 15 seconds; an empty
// userAgent falls back to [DefaultUserAgent].
func NewWebParser(timeout time.Duration, userAgent string) *WebParser {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &WebParser{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// FetchRecipe downloads the page at url and extracts cleaned recipe text.
// Returns [ErrNoContent] when the page holds nothing that looks like a
// recipe.
func (p *WebParser) FetchRecipe(ctx context.Context, url string) (string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("recipe: invalid URL %q", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("recipe: build request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("recipe: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("recipe: fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return "", fmt.Errorf("recipe: parse html: %w", err)
	}

	text := CleanRecipeText(htmlToText(doc))
	if len(text) < minRecipeLength {
		return "", ErrNoContent
	}
	return text, nil
}

// skipElements are HTML elements whose text is never part of the recipe.
var skipElements = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {},
	"nav": {}, "header": {}, "footer": {}, "aside": {}, "form": {},
	"iframe": {}, "svg": {},
}

// htmlToText walks the parse tree collecting visible text, one line per text
// node.
func htmlToText(doc *html.Node) string {
	var b strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, skip := skipElements[n.Data]; skip {
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return b.String()
}

// skipPatterns mark lines of page chrome rather than recipe content.
var skipPatterns = []string{
	"cookie", "privacy", "terms", "advertisement", "advert",
	"subscribe", "newsletter", "share", "comment", "footer",
	"navigation", "menu", "header", "sidebar", "related",
	"©", "all rights reserved", "powered by",
}

// CleanRecipeText strips common non-recipe lines from extracted page text.
func CleanRecipeText(text string) string {
	var cleaned []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lower := strings.ToLower(line)
		skip := false
		for _, pattern := range skipPatterns {
			if strings.Contains(lower, pattern) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		// Very short all-caps lines are almost always navigation.
		if len(line) < 10 && isUpper(line) {
			continue
		}

		cleaned = append(cleaned, line)
	}

	return strings.Join(cleaned, "\n")
}

// isUpper reports whether s contains letters and none of them lowercase.
func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}
