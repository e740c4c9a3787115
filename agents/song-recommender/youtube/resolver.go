// Package youtube resolves song suggestions to playable YouTube videos.
package youtube

import (
	"context"
	"fmt"
	"html"
	"strings"

	"endless-chord/internal/models"
	"endless-chord/shared/config"
	"endless-chord/shared/logging"
	"endless-chord/shared/monitoring"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// Resolver finds the video for a song. A miss or any failure reports false.
type Resolver interface {
	Resolve(ctx context.Context, title, artist string) (*models.VideoRef, bool)
}

// SearchQuery is the text used to look up a song's video.
func SearchQuery(title, artist string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(title+" "+artist), " ") + " official music video")
}

// APIResolver searches through the YouTube Data API.
type APIResolver struct {
	service *youtube.Service
	logger  zerolog.Logger
}

// NewAPIResolver authenticates with an API key when one is configured and
// otherwise with the stored OAuth token.
func NewAPIResolver(ctx context.Context, cfg *config.YouTubeConfig) (*APIResolver, error) {
	logger := logging.WithComponent("youtube")

	var opts []option.ClientOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		oc := oauthConfig(cfg.ClientID, cfg.ClientSecret)
		token, err := getToken(ctx, oc, cfg.TokenFile, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to get OAuth token: %w", err)
		}
		ts := &tokenSaver{config: oc, token: token, tokenFile: cfg.TokenFile, logger: logger}
		opts = append(opts, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	}

	return NewAPIResolverWithOptions(ctx, logger, opts...)
}

func NewAPIResolverWithOptions(ctx context.Context, logger zerolog.Logger, opts ...option.ClientOption) (*APIResolver, error) {
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	return &APIResolver{service: service, logger: logger}, nil
}

func (r *APIResolver) Resolve(ctx context.Context, title, artist string) (*models.VideoRef, bool) {
	query := SearchQuery(title, artist)

	resp, err := r.service.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(5).
		Context(ctx).
		Do()
	if err != nil {
		monitoring.ResolverLookups.WithLabelValues("api", "error").Inc()
		r.logger.Warn().Err(err).Str("query", query).Msg("video search failed")
		return nil, false
	}

	for _, item := range resp.Items {
		if item.Id == nil || item.Id.Kind != "youtube#video" || item.Id.VideoId == "" {
			continue
		}
		display := ""
		if item.Snippet != nil {
			display = html.UnescapeString(item.Snippet.Title)
		}
		monitoring.ResolverLookups.WithLabelValues("api", "hit").Inc()
		return &models.VideoRef{VideoID: item.Id.VideoId, DisplayTitle: display}, true
	}

	monitoring.ResolverLookups.WithLabelValues("api", "miss").Inc()
	r.logger.Debug().Str("query", query).Msg("no video found")
	return nil, false
}

// ChainResolver tries each resolver in order; the first hit wins.
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context, title, artist string) (*models.VideoRef, bool) {
	for _, r := range c {
		if ctx.Err() != nil {
			return nil, false
		}
		if ref, ok := r.Resolve(ctx, title, artist); ok {
			return ref, true
		}
	}
	return nil, false
}
