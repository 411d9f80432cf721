package music

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/harmonia-music/harmonia/internal/cache"
	"github.com/harmonia-music/harmonia/internal/event"
	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
	"github.com/harmonia-music/harmonia/internal/store"
)

// Enricher augments an incoming item with external metadata before it is
// persisted. Best-effort: a failing enricher never aborts an add.
type Enricher interface {
	Enrich(ctx context.Context, item media.Item) error
}

// Options tunes the controller set.
type Options struct {
	// MatchConcurrency caps how many providers one match run queries at
	// once. Providers sharing a remote endpoint should additionally share
	// a rate limiter.
	MatchConcurrency int
	// SyncConcurrency caps concurrently syncing provider/media-type pairs.
	SyncConcurrency int
	// Enricher, when set, is applied to every added item.
	Enricher Enricher
}

// Set wires the four media controllers together with their shared
// dependencies. Cross-type concerns (dependent lookups for cascading
// delete, artist reference resolution) live here.
type Set struct {
	Artists   *ArtistController
	Albums    *AlbumController
	Tracks    *TrackController
	Playlists *PlaylistController

	store    *store.Store
	cache    *cache.Store
	registry *provider.Registry
	limiters *provider.RateLimiterMap
	bus      *event.Bus
	logger   *slog.Logger

	matchSem  *semaphore.Weighted
	syncLimit int

	syncMu sync.Mutex
	syncs  map[string]*SyncTask
}

// NewSet builds the controller set.
func NewSet(st *store.Store, cs *cache.Store, reg *provider.Registry, lim *provider.RateLimiterMap, bus *event.Bus, logger *slog.Logger, opts Options) *Set {
	if opts.MatchConcurrency < 1 {
		opts.MatchConcurrency = 1
	}
	if opts.SyncConcurrency < 1 {
		opts.SyncConcurrency = 1
	}

	s := &Set{
		store:     st,
		cache:     cs,
		registry:  reg,
		limiters:  lim,
		bus:       bus,
		logger:    logger.With(slog.String("component", "music")),
		matchSem:  semaphore.NewWeighted(int64(opts.MatchConcurrency)),
		syncLimit: opts.SyncConcurrency,
		syncs:     make(map[string]*SyncTask),
	}

	deps := controllerDeps{
		store:    st,
		cache:    cs,
		registry: reg,
		limiters: lim,
		bus:      bus,
		logger:   s.logger,
	}

	s.Artists = &ArtistController{
		Controller: newController(Policy[*media.Artist]{
			Kind:    media.TypeArtist,
			Table:   store.TableArtists,
			FromRow: artistFromRow,
			ToRow:   artistToRow,
			FetchItem: func(ctx context.Context, p provider.Provider, id string) (*media.Artist, error) {
				return p.GetArtist(ctx, id)
			},
			Canonicalize:    func(a *media.Artist) { media.CanonicalizeReserved(&a.Core) },
			Dependents:      s.artistDependents,
			DeleteDependent: s.deleteDependent,
		}, deps),
		set: s,
	}

	s.Albums = &AlbumController{
		Controller: newController(Policy[*media.Album]{
			Kind:    media.TypeAlbum,
			Table:   store.TableAlbums,
			FromRow: albumFromRow,
			ToRow:   albumToRow,
			FetchItem: func(ctx context.Context, p provider.Provider, id string) (*media.Album, error) {
				return p.GetAlbum(ctx, id)
			},
			MergeFields:     mergeAlbumFields,
			Dependents:      s.albumDependents,
			DeleteDependent: s.deleteDependent,
		}, deps),
		set: s,
	}

	s.Tracks = &TrackController{
		Controller: newController(Policy[*media.Track]{
			Kind:    media.TypeTrack,
			Table:   store.TableTracks,
			FromRow: trackFromRow,
			ToRow:   trackToRow,
			FetchItem: func(ctx context.Context, p provider.Provider, id string) (*media.Track, error) {
				return p.GetTrack(ctx, id)
			},
			MergeFields: mergeTrackFields,
		}, deps),
		set: s,
	}

	s.Playlists = &PlaylistController{
		Controller: newController(Policy[*media.Playlist]{
			Kind:    media.TypePlaylist,
			Table:   store.TablePlaylists,
			FromRow: playlistFromRow,
			ToRow:   playlistToRow,
			FetchItem: func(ctx context.Context, p provider.Provider, id string) (*media.Playlist, error) {
				return p.GetPlaylist(ctx, id)
			},
			MergeFields: mergePlaylistFields,
		}, deps),
		set: s,
	}

	if opts.Enricher != nil {
		e := opts.Enricher
		s.Artists.enrich = func(ctx context.Context, a *media.Artist) error { return e.Enrich(ctx, a) }
		s.Albums.enrich = func(ctx context.Context, a *media.Album) error { return e.Enrich(ctx, a) }
		s.Tracks.enrich = func(ctx context.Context, t *media.Track) error { return e.Enrich(ctx, t) }
		s.Playlists.enrich = func(ctx context.Context, p *media.Playlist) error { return e.Enrich(ctx, p) }
	}

	return s
}

// artistDependents lists albums and tracks still referencing the artist.
func (s *Set) artistDependents(ctx context.Context, artistID string) ([]Dependent, error) {
	var deps []Dependent
	albums, err := s.rowsReferencing(ctx, store.TableAlbums, "artists", artistID)
	if err != nil {
		return nil, err
	}
	for _, row := range albums {
		deps = append(deps, Dependent{Kind: media.TypeAlbum, ItemID: row.String("item_id")})
	}
	tracks, err := s.rowsReferencing(ctx, store.TableTracks, "artists", artistID)
	if err != nil {
		return nil, err
	}
	for _, row := range tracks {
		deps = append(deps, Dependent{Kind: media.TypeTrack, ItemID: row.String("item_id")})
	}
	return deps, nil
}

// albumDependents lists tracks still referencing the album.
func (s *Set) albumDependents(ctx context.Context, albumID string) ([]Dependent, error) {
	var deps []Dependent
	tracks, err := s.rowsReferencing(ctx, store.TableTracks, "album", albumID)
	if err != nil {
		return nil, err
	}
	for _, row := range tracks {
		deps = append(deps, Dependent{Kind: media.TypeTrack, ItemID: row.String("item_id")})
	}
	return deps, nil
}

// rowsReferencing scans a relationship JSON text column for rows holding a
// reference to the given item id.
func (s *Set) rowsReferencing(ctx context.Context, table, column, itemID string) ([]store.Row, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s LIKE ?`, table, column) //nolint:gosec // table and column names are package constants
	return s.store.GetRowsFromQuery(ctx, query, []any{`%"` + itemID + `"%`}, dependentsLimit)
}

func (s *Set) deleteDependent(ctx context.Context, d Dependent) error {
	switch d.Kind {
	case media.TypeAlbum:
		return s.Albums.Delete(ctx, d.ItemID, true)
	case media.TypeTrack:
		return s.Tracks.Delete(ctx, d.ItemID, true)
	case media.TypePlaylist:
		return s.Playlists.Delete(ctx, d.ItemID, true)
	case media.TypeArtist:
		return s.Artists.Delete(ctx, d.ItemID, true)
	default:
		return fmt.Errorf("unknown dependent type %q", d.Kind)
	}
}

// resolveArtistRefs replaces provider-sourced artist references with
// references to canonical artists, adding a minimal canonical artist when
// none exists yet. References already pointing at the library pass through.
func (s *Set) resolveArtistRefs(ctx context.Context, refs []media.ItemRef) ([]media.ItemRef, error) {
	out := make([]media.ItemRef, 0, len(refs))
	for _, ref := range refs {
		if ref.Provider == media.ProviderLibrary || ref.Provider == "" {
			out = append(out, ref)
			continue
		}
		existing, ok, err := s.Artists.GetByProviderID(ctx, ref.Provider, ref.ItemID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, media.RefOf(existing))
			continue
		}
		artist := &media.Artist{Core: media.Core{
			Provider: ref.Provider,
			Name:     ref.Name,
			SortName: ref.SortName,
			Mappings: media.MappingSet{{
				ItemID:           ref.ItemID,
				ProviderDomain:   s.domainOf(ref.Provider),
				ProviderInstance: ref.Provider,
				Available:        true,
			}},
		}}
		added, err := s.Artists.Add(ctx, artist, false)
		if err != nil {
			return nil, err
		}
		out = append(out, media.RefOf(added))
	}
	return out, nil
}

// domainOf resolves a provider instance id to its domain, falling back to
// the instance id itself for unregistered providers.
func (s *Set) domainOf(instance string) string {
	if p := s.registry.Get(instance); p != nil {
		return p.Domain()
	}
	return instance
}
