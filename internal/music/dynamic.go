package music

import (
	"context"

	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
	"github.com/harmonia-music/harmonia/internal/store"
)

// Similar returns tracks similar to the given one. Providers that expose a
// native similar-tracks capability are tried first, in mapping order; when
// none can serve, the library falls back to other tracks by the same
// artist. The fallback never touches the network.
func (t *TrackController) Similar(ctx context.Context, track *media.Track, limit int) ([]*media.Track, error) {
	if limit <= 0 {
		limit = 25
	}
	for _, m := range track.Mappings {
		p := t.registry.Get(m.ProviderInstance)
		if p == nil || !provider.Supports(p, provider.FeatureSimilarTracks) {
			continue
		}
		if err := t.limiters.Wait(ctx, p.Instance()); err != nil {
			return nil, err
		}
		tracks, err := p.GetSimilarTracks(ctx, m.ItemID, limit)
		if err != nil {
			t.logger.Debug("similar tracks lookup failed",
				"provider", p.Instance(), "track", track.Name, "error", err)
			continue
		}
		if len(tracks) > 0 {
			return tracks, nil
		}
	}
	return t.similarFromLibrary(ctx, track, limit)
}

// similarFromLibrary approximates a similar-tracks listing with other
// library tracks by the same artist.
func (t *TrackController) similarFromLibrary(ctx context.Context, track *media.Track, limit int) ([]*media.Track, error) {
	artist := track.Artist()
	if artist == nil {
		return nil, nil
	}
	sortArtist := artist.SortName
	if sortArtist == "" {
		sortArtist = media.SortNameOf(artist.Name)
	}
	rows, err := t.store.GetRows(ctx, store.TableTracks,
		store.Row{"sort_artist": sortArtist}, "timestamp_modified DESC", limit+1)
	if err != nil {
		return nil, err
	}
	var out []*media.Track
	for _, row := range rows {
		if row.String("item_id") == track.ItemID {
			continue
		}
		other, err := trackFromRow(row)
		if err != nil {
			continue
		}
		out = append(out, other)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
