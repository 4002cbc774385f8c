package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; RecruitRAG/1.0)"
)

var (
	urlPattern        = regexp.MustCompile(`http[s]?://\S+`)
	nonTextPattern    = regexp.MustCompile(`[^a-zA-Z0-9 .,;:()/&+#-]`)
	whitespacePattern = regexp.MustCompile(`\s{2,}`)
)

// Error represents a failure to fetch or read a careers page. The pipeline
// never retries it; the caller decides whether to run again.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scrape %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("scrape %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Fetcher retrieves career pages and reduces them to plain text suitable for
// extraction prompts.
type Fetcher struct {
	HTTPClient *http.Client
	UserAgent  string
}

// NewFetcher returns a Fetcher with the default HTTP client and user agent.
func NewFetcher() *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		UserAgent:  defaultUserAgent,
	}
}

// Fetch downloads the page at urlStr and returns its cleaned visible text.
// An empty page after cleaning is reported as an error: there is nothing for
// the extractor to work with.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) (string, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", &Error{URL: urlStr, Message: "invalid url", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", &Error{URL: urlStr, Message: "creating request", Cause: err}
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return "", &Error{URL: urlStr, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{URL: urlStr, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", &Error{URL: urlStr, Message: "parsing html", Cause: err}
	}

	doc.Find("script, style, noscript, iframe").Remove()

	text := CleanText(doc.Find("body").Text())
	if text == "" {
		return "", &Error{URL: urlStr, Message: "page is empty after cleaning"}
	}

	return text, nil
}

// CleanText normalizes scraped page text: URLs and markup noise are removed
// and whitespace is collapsed to single spaces.
func CleanText(text string) string {
	text = urlPattern.ReplaceAllString(text, "")
	text = nonTextPattern.ReplaceAllString(text, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}
