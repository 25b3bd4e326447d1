package recipe

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoTranscript is returned when a video has no English transcript
// available.
var ErrNoTranscript = errors.New("recipe: no transcript available")

// timedTextURL is the endpoint serving YouTube caption tracks as XML.
const timedTextURL = "https://video.google.com/timedtext"

// YouTubeParser fetches video transcripts so cooking videos can be stored as
// text recipes.
type YouTubeParser struct {
	client  *http.Client
	baseURL string
}

// NewYouTubeParser returns a YouTubeParser. Zero timeout means 15 seconds.
func NewYouTubeParser(timeout time.Duration) *YouTubeParser {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &YouTubeParser{
		client:  &http.Client{Timeout: timeout},
		baseURL: timedTextURL,
	}
}

// WithTranscriptBaseURL overrides the caption endpoint. Used by tests.
func (p *YouTubeParser) WithTranscriptBaseURL(base string) *YouTubeParser {
	p.baseURL = base
	return p
}

// ExtractVideoID pulls the video identifier out of a YouTube link. It
// understands watch URLs (?v=), youtu.be short links, and /shorts/ and
// /embed/ paths.
func ExtractVideoID(link string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", fmt.Errorf("recipe: invalid YouTube link: %w", err)
	}

	if v := u.Query().Get("v"); v != "" {
		return v, nil
	}

	host := strings.TrimPrefix(u.Host, "www.")
	path := strings.Trim(u.Path, "/")
	switch {
	case host == "youtu.be" && path != "":
		return strings.SplitN(path, "/", 2)[0], nil
	case strings.HasPrefix(path, "shorts/"):
		return strings.TrimPrefix(path, "shorts/"), nil
	case strings.HasPrefix(path, "embed/"):
		return strings.TrimPrefix(path, "embed/"), nil
	}

	return "", fmt.Errorf("recipe: invalid YouTube link %q", link)
}

// transcript mirrors the timedtext XML document.
type transcript struct {
	XMLName xml.Name `xml:"transcript"`
	Texts   []struct {
		Content string `xml:",chardata"`
	} `xml:"text"`
}

// FetchTranscript downloads the English caption track for link and joins it
// into one text. Returns [ErrNoTranscript] when the video carries no English
// captions.
func (p *YouTubeParser) FetchTranscript(ctx context.Context, link string) (string, error) {
	videoID, err := ExtractVideoID(link)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s?lang=en&v=%s", p.baseURL, url.QueryEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("recipe: build transcript request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("recipe: fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("recipe: fetch transcript: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return "", fmt.Errorf("recipe: read transcript: %w", err)
	}
	if len(body) == 0 {
		return "", ErrNoTranscript
	}

	var doc transcript
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("recipe: decode transcript: %w", err)
	}

	parts := make([]string, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		// Caption text arrives HTML-escaped inside the XML.
		if c := strings.TrimSpace(html.UnescapeString(t.Content)); c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoTranscript
	}

	return strings.Join(parts, " "), nil
}
