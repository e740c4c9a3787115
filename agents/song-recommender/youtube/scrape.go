package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"endless-chord/internal/models"
	"endless-chord/shared/logging"
	"endless-chord/shared/monitoring"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://www.youtube.com"
	userAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxPageBytes   = 4 << 20
)

var initialDataMarker = []byte("var ytInitialData = ")

// ScrapeResolver reads the public search results page. It needs no
// credentials and is paced by a rate limiter.
type ScrapeResolver struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewScrapeResolver allows perSecond requests per second with a burst of one.
func NewScrapeResolver(perSecond float64) *ScrapeResolver {
	return &ScrapeResolver{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logging.WithComponent("youtube-scrape"),
	}
}

func (r *ScrapeResolver) Resolve(ctx context.Context, title, artist string) (*models.VideoRef, bool) {
	query := SearchQuery(title, artist)

	page, err := r.fetch(ctx, query)
	if err != nil {
		monitoring.ResolverLookups.WithLabelValues("scrape", "error").Inc()
		r.logger.Warn().Err(err).Str("query", query).Msg("results page fetch failed")
		return nil, false
	}

	if ref, ok := fromInitialData(page); ok {
		monitoring.ResolverLookups.WithLabelValues("scrape", "hit").Inc()
		return ref, true
	}
	if ref, ok := fromHTML(page); ok {
		monitoring.ResolverLookups.WithLabelValues("scrape", "hit").Inc()
		return ref, true
	}

	monitoring.ResolverLookups.WithLabelValues("scrape", "miss").Inc()
	r.logger.Debug().Str("query", query).Msg("no video found in results page")
	return nil, false
}

func (r *ScrapeResolver) fetch(ctx context.Context, query string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/results?search_query="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

type textRuns struct {
	Runs []struct {
		Text string `json:"text"`
	} `json:"runs"`
}

func (t textRuns) String() string {
	var b strings.Builder
	for _, r := range t.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

type initialData struct {
	Contents struct {
		TwoColumnSearchResultsRenderer struct {
			PrimaryContents struct {
				SectionListRenderer struct {
					Contents []struct {
						ItemSectionRenderer struct {
							Contents []struct {
								VideoRenderer *struct {
									VideoID string   `json:"videoId"`
									Title   textRuns `json:"title"`
								} `json:"videoRenderer"`
							} `json:"contents"`
						} `json:"itemSectionRenderer"`
					} `json:"contents"`
				} `json:"sectionListRenderer"`
			} `json:"primaryContents"`
		} `json:"twoColumnSearchResultsRenderer"`
	} `json:"contents"`
}

// fromInitialData reads the first video result from the ytInitialData
// object embedded in the page.
func fromInitialData(page []byte) (*models.VideoRef, bool) {
	i := bytes.Index(page, initialDataMarker)
	if i < 0 {
		return nil, false
	}

	var data initialData
	if err := json.NewDecoder(bytes.NewReader(page[i+len(initialDataMarker):])).Decode(&data); err != nil {
		return nil, false
	}

	for _, section := range data.Contents.TwoColumnSearchResultsRenderer.PrimaryContents.SectionListRenderer.Contents {
		for _, item := range section.ItemSectionRenderer.Contents {
			if item.VideoRenderer != nil && item.VideoRenderer.VideoID != "" {
				return &models.VideoRef{
					VideoID:      item.VideoRenderer.VideoID,
					DisplayTitle: item.VideoRenderer.Title.String(),
				}, true
			}
		}
	}
	return nil, false
}

// fromHTML falls back to the rendered result links.
func fromHTML(page []byte) (*models.VideoRef, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, false
	}

	var ref *models.VideoRef
	doc.Find(`a#video-title, a.yt-simple-endpoint.style-scope.ytd-video-renderer, a[href*="/watch?v="]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		id := watchID(href)
		if id == "" {
			return true
		}
		display, ok := s.Attr("title")
		if !ok {
			display = strings.TrimSpace(s.Text())
		}
		ref = &models.VideoRef{VideoID: id, DisplayTitle: display}
		return false
	})
	return ref, ref != nil
}

func watchID(href string) string {
	if !strings.Contains(href, "/watch?v=") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}
