package core

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// negativeKeywords are appended to random fallback queries to steer the
// resolver away from low-quality uploads.
const negativeKeywords = "-meme -parody -nightcore -remix -edit -bass -slowed -sped -tiktok -funny"

// SmartPicker selects the next auto-play query from the guild's seed artists.
//
// Selection order: pick a random seed artist, ask the catalog for
// recommendations seeded on that artist, fall back to a catalog text search,
// and finally to a blind "artist song <year>" resolver query when the catalog
// is unavailable. Returns ok=false only when no query can be produced at all.
type SmartPicker struct {
	catalog Catalog
	config  *AppConfig
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSmartPicker(catalog Catalog, config *AppConfig, logger *zap.Logger) *SmartPicker {
	return &SmartPicker{
		catalog: catalog,
		config:  config,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *SmartPicker) intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

// Pick produces the next auto-play query from the given seed artists.
func (p *SmartPicker) Pick(ctx context.Context, seeds []string) (string, bool) {
	if len(seeds) == 0 {
		return "", false
	}
	artist := seeds[p.intn(len(seeds))]

	if p.catalog == nil {
		return p.RandomQuery(artist), true
	}

	if query, ok := p.pickRecommendation(ctx, artist); ok {
		return query, true
	}
	return p.pickBySearch(ctx, artist)
}

// pickRecommendation asks the catalog for tracks similar to the seed artist.
func (p *SmartPicker) pickRecommendation(ctx context.Context, artist string) (string, bool) {
	artistID, err := p.catalog.FindArtist(ctx, artist)
	if err != nil {
		p.logger.Debug("Seed artist lookup failed",
			zap.String("artist", artist),
			zap.Error(err))
		return "", false
	}

	tracks, err := p.catalog.Recommendations(ctx, artistID,
		p.config.RecommendationLimit, p.config.MinPopularity)
	if err != nil || len(tracks) == 0 {
		p.logger.Debug("No recommendations for seed artist",
			zap.String("artist", artist),
			zap.Error(err))
		return "", false
	}

	t := tracks[p.intn(len(tracks))]
	return fmt.Sprintf("%s - %s", t.Artist, t.Title), true
}

// pickBySearch falls back to a plain catalog text search on the artist name.
func (p *SmartPicker) pickBySearch(ctx context.Context, artist string) (string, bool) {
	tracks, err := p.catalog.SearchTracks(ctx, artist, p.config.CatalogSearchLimit)
	if err != nil {
		p.logger.Warn("Catalog search for smart pick failed",
			zap.String("artist", artist),
			zap.Error(err))
		return "", false
	}
	if len(tracks) == 0 {
		return "", false
	}

	t := tracks[p.intn(len(tracks))]
	return fmt.Sprintf("%s - %s", t.Artist, t.Title), true
}

// RandomQuery builds a blind resolver query for the artist with a random
// year and the negative keyword list. Used when no catalog is configured.
func (p *SmartPicker) RandomQuery(artist string) string {
	span := p.config.RandomYearMax - p.config.RandomYearMin + 1
	if span < 1 {
		span = 1
	}
	year := p.config.RandomYearMin + p.intn(span)
	return fmt.Sprintf("%s song %d %s", artist, year, negativeKeywords)
}
