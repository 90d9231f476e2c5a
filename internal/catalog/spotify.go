// Package catalog integrates the Spotify Web API: artist lookup and
// recommendations for Smart Play, plus share-link expansion into plain
// search queries.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"guilddj/internal/core"
)

const playlistPageSize = 100

var (
	trackLinkRegex    = regexp.MustCompile(`(?:https?://)?open\.spotify\.com/(?:intl-[a-z]+/)?track/([a-zA-Z0-9]+)`)
	playlistLinkRegex = regexp.MustCompile(`(?:https?://)?open\.spotify\.com/(?:intl-[a-z]+/)?playlist/([a-zA-Z0-9]+)`)
	trackURIRegex     = regexp.MustCompile(`spotify:track:([a-zA-Z0-9]+)`)
)

// Client talks to Spotify with the client-credentials flow. No user consent
// is involved; only public catalog data is read.
type Client struct {
	config *core.SpotifyConfig
	logger *zap.Logger
	client *spotify.Client
}

// NewClient authenticates against the Spotify accounts service and returns a
// ready catalog client.
func NewClient(ctx context.Context, config *core.SpotifyConfig, logger *zap.Logger) (*Client, error) {
	creds := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	token, err := creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("spotify token request: %w", err)
	}

	httpClient := spotifyauth.New().Client(ctx, token)
	c := &Client{
		config: config,
		logger: logger,
		client: spotify.New(httpClient),
	}

	logger.Info("Spotify catalog client authenticated")
	return c, nil
}

// FindArtist returns the catalog ID of the best match for the artist name.
func (c *Client) FindArtist(ctx context.Context, name string) (string, error) {
	results, err := c.client.Search(ctx, name, spotify.SearchTypeArtist, spotify.Limit(1))
	if err != nil {
		return "", fmt.Errorf("artist search: %w", err)
	}
	if results.Artists == nil || len(results.Artists.Artists) == 0 {
		return "", core.ErrArtistNotFound
	}

	artist := results.Artists.Artists[0]
	c.logger.Debug("Resolved seed artist",
		zap.String("query", name),
		zap.String("artist", artist.Name),
		zap.String("artistID", string(artist.ID)))
	return string(artist.ID), nil
}

// Recommendations returns tracks similar to the seed artist, filtered by a
// minimum popularity score.
func (c *Client) Recommendations(ctx context.Context, artistID string, limit, minPopularity int) ([]core.CatalogTrack, error) {
	seeds := spotify.Seeds{Artists: []spotify.ID{spotify.ID(artistID)}}
	attrs := spotify.NewTrackAttributes().MinPopularity(minPopularity)

	recs, err := c.client.GetRecommendations(ctx, seeds, attrs, spotify.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("recommendations: %w", err)
	}

	tracks := make([]core.CatalogTrack, 0, len(recs.Tracks))
	for i := range recs.Tracks {
		tracks = append(tracks, simpleTrack(&recs.Tracks[i]))
	}
	return tracks, nil
}

// SearchTracks runs a plain text track search.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]core.CatalogTrack, error) {
	results, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("track search: %w", err)
	}
	if results.Tracks == nil {
		return nil, nil
	}

	tracks := make([]core.CatalogTrack, 0, len(results.Tracks.Tracks))
	for i := range results.Tracks.Tracks {
		tracks = append(tracks, simpleTrack(&results.Tracks.Tracks[i].SimpleTrack))
	}
	return tracks, nil
}

// IsPlaylistLink reports whether text is a Spotify playlist share link.
func (c *Client) IsPlaylistLink(text string) bool {
	return playlistLinkRegex.MatchString(text)
}

// IsTrackLink reports whether text is a Spotify track share link or URI.
func (c *Client) IsTrackLink(text string) bool {
	return trackLinkRegex.MatchString(text) || trackURIRegex.MatchString(text)
}

// ExpandPlaylist resolves a playlist share link into "artist - title"
// queries and the distinct artist names appearing in it. Pages through the
// whole playlist.
func (c *Client) ExpandPlaylist(ctx context.Context, url string) ([]string, []string, error) {
	playlistID, err := extractID(playlistLinkRegex, url)
	if err != nil {
		return nil, nil, core.ErrNotPlaylistLink
	}

	var (
		queries []string
		artists []string
		seen    = make(map[string]struct{})
		offset  = 0
	)

	for {
		items, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(playlistPageSize), spotify.Offset(offset))
		if err != nil {
			return nil, nil, fmt.Errorf("playlist items: %w", err)
		}

		for i := range items.Items {
			track := items.Items[i].Track.Track
			if track == nil || len(track.Artists) == 0 {
				continue
			}
			artist := track.Artists[0].Name
			queries = append(queries, fmt.Sprintf("%s - %s", artist, track.Name))
			if _, dup := seen[artist]; !dup {
				seen[artist] = struct{}{}
				artists = append(artists, artist)
			}
		}

		if len(items.Items) < playlistPageSize {
			break
		}
		offset += playlistPageSize
	}

	c.logger.Info("Expanded playlist",
		zap.String("playlistID", playlistID),
		zap.Int("tracks", len(queries)),
		zap.Int("artists", len(artists)))
	return queries, artists, nil
}

// TrackQuery resolves a track share link to an "artist - title" query.
func (c *Client) TrackQuery(ctx context.Context, url string) (string, error) {
	trackID, err := extractID(trackLinkRegex, url)
	if err != nil {
		trackID, err = extractID(trackURIRegex, url)
	}
	if err != nil {
		return "", fmt.Errorf("not a track link: %s", url)
	}

	track, err := c.client.GetTrack(ctx, spotify.ID(trackID))
	if err != nil {
		return "", fmt.Errorf("get track: %w", err)
	}

	artist := ""
	if len(track.Artists) > 0 {
		artist = track.Artists[0].Name
	}
	return fmt.Sprintf("%s - %s", artist, track.Name), nil
}

func simpleTrack(t *spotify.SimpleTrack) core.CatalogTrack {
	artist := ""
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	return core.CatalogTrack{Artist: artist, Title: t.Name}
}

func extractID(re *regexp.Regexp, text string) (string, error) {
	matches := re.FindStringSubmatch(strings.TrimSpace(text))
	if len(matches) < 2 {
		return "", fmt.Errorf("no ID in %q", text)
	}
	return matches[1], nil
}
