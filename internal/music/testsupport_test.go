package music

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/harmonia-music/harmonia/internal/cache"
	"github.com/harmonia-music/harmonia/internal/database"
	"github.com/harmonia-music/harmonia/internal/event"
	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
	"github.com/harmonia-music/harmonia/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupSet builds a controller set over fresh in-memory library and cache
// databases, with the given providers registered.
func setupSet(t *testing.T, providers ...provider.Provider) *Set {
	t.Helper()
	logger := testLogger()

	libDB, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening library db: %v", err)
	}
	t.Cleanup(func() { _ = libDB.Close() })
	if err := database.Migrate(libDB); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	cacheDB, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening cache db: %v", err)
	}
	t.Cleanup(func() { _ = cacheDB.Close() })
	cacheStore, err := cache.New(context.Background(), cacheDB, logger)
	if err != nil {
		t.Fatalf("initializing cache: %v", err)
	}
	t.Cleanup(cacheStore.Close)

	registry := provider.NewRegistry()
	for _, p := range providers {
		registry.Register(p)
	}

	bus := event.NewBus(logger, 64)
	go bus.Start()
	t.Cleanup(bus.Stop)

	return NewSet(store.New(libDB, logger), cacheStore, registry, provider.NewRateLimiterMap(), bus, logger, Options{
		MatchConcurrency: 2,
		SyncConcurrency:  2,
	})
}

// fakeProvider is a scriptable in-memory provider used across the package
// tests. Call counts are tracked per capability.
type fakeProvider struct {
	provider.Unimplemented

	domain   string
	instance string
	features []provider.Feature

	mu sync.Mutex

	artists   map[string]*media.Artist
	albums    map[string]*media.Album
	tracks    map[string]*media.Track
	playlists map[string]*media.Playlist

	artistAlbums   map[string][]*media.Album
	artistTop      map[string][]*media.Track
	albumTracks    map[string][]*media.Track
	playlistTracks map[string][]*media.Track

	searchTracks []*media.Track
	searchAlbums []*media.Album

	// failListings makes every children-listing call error.
	failListings bool

	libraryArtists   []*media.Artist
	libraryAlbums    []*media.Album
	libraryTracks    []*media.Track
	libraryPlaylists []*media.Playlist

	calls map[string]int
}

func newFakeProvider(domain, instance string, features ...provider.Feature) *fakeProvider {
	return &fakeProvider{
		domain:         domain,
		instance:       instance,
		features:       features,
		artists:        make(map[string]*media.Artist),
		albums:         make(map[string]*media.Album),
		tracks:         make(map[string]*media.Track),
		playlists:      make(map[string]*media.Playlist),
		artistAlbums:   make(map[string][]*media.Album),
		artistTop:      make(map[string][]*media.Track),
		albumTracks:    make(map[string][]*media.Track),
		playlistTracks: make(map[string][]*media.Track),
		calls:          make(map[string]int),
	}
}

func (f *fakeProvider) Domain() string               { return f.domain }
func (f *fakeProvider) Instance() string             { return f.instance }
func (f *fakeProvider) DisplayName() string          { return f.domain }
func (f *fakeProvider) Features() []provider.Feature { return f.features }

func (f *fakeProvider) count(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeProvider) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProvider) GetArtist(_ context.Context, id string) (*media.Artist, error) {
	f.count("GetArtist")
	if a, ok := f.artists[id]; ok {
		return a, nil
	}
	return nil, &provider.UnavailableError{Provider: f.instance}
}

func (f *fakeProvider) GetAlbum(_ context.Context, id string) (*media.Album, error) {
	f.count("GetAlbum")
	if a, ok := f.albums[id]; ok {
		return a, nil
	}
	return nil, &provider.UnavailableError{Provider: f.instance}
}

func (f *fakeProvider) GetTrack(_ context.Context, id string) (*media.Track, error) {
	f.count("GetTrack")
	if tr, ok := f.tracks[id]; ok {
		return tr, nil
	}
	return nil, &provider.UnavailableError{Provider: f.instance}
}

func (f *fakeProvider) GetPlaylist(_ context.Context, id string) (*media.Playlist, error) {
	f.count("GetPlaylist")
	if p, ok := f.playlists[id]; ok {
		return p, nil
	}
	return nil, &provider.UnavailableError{Provider: f.instance}
}

func (f *fakeProvider) GetArtistAlbums(_ context.Context, id string) ([]*media.Album, error) {
	f.count("GetArtistAlbums")
	if f.failListings {
		return nil, &provider.UnavailableError{Provider: f.instance}
	}
	return f.artistAlbums[id], nil
}

func (f *fakeProvider) GetArtistTopTracks(_ context.Context, id string) ([]*media.Track, error) {
	f.count("GetArtistTopTracks")
	if f.failListings {
		return nil, &provider.UnavailableError{Provider: f.instance}
	}
	return f.artistTop[id], nil
}

func (f *fakeProvider) GetAlbumTracks(_ context.Context, id string) ([]*media.Track, error) {
	f.count("GetAlbumTracks")
	if f.failListings {
		return nil, &provider.UnavailableError{Provider: f.instance}
	}
	return f.albumTracks[id], nil
}

func (f *fakeProvider) GetPlaylistTracks(_ context.Context, id string) ([]*media.Track, error) {
	f.count("GetPlaylistTracks")
	if f.failListings {
		return nil, &provider.UnavailableError{Provider: f.instance}
	}
	return f.playlistTracks[id], nil
}

func (f *fakeProvider) Search(_ context.Context, _ string, mediaType media.Type, _ int) (*provider.SearchResults, error) {
	f.count("Search")
	res := &provider.SearchResults{}
	switch mediaType {
	case media.TypeTrack:
		res.Tracks = f.searchTracks
	case media.TypeAlbum:
		res.Albums = f.searchAlbums
	}
	return res, nil
}

func (f *fakeProvider) GetLibraryArtists(context.Context) ([]*media.Artist, error) {
	f.count("GetLibraryArtists")
	return f.libraryArtists, nil
}

func (f *fakeProvider) GetLibraryAlbums(context.Context) ([]*media.Album, error) {
	f.count("GetLibraryAlbums")
	return f.libraryAlbums, nil
}

func (f *fakeProvider) GetLibraryTracks(context.Context) ([]*media.Track, error) {
	f.count("GetLibraryTracks")
	return f.libraryTracks, nil
}

func (f *fakeProvider) GetLibraryPlaylists(context.Context) ([]*media.Playlist, error) {
	f.count("GetLibraryPlaylists")
	return f.libraryPlaylists, nil
}

// providerArtist builds a provider-sourced artist carrying one mapping.
func providerArtist(p *fakeProvider, providerItemID, name string) *media.Artist {
	return &media.Artist{Core: media.Core{
		ItemID:   providerItemID,
		Provider: p.instance,
		Name:     name,
		Mappings: media.MappingSet{{
			ItemID:           providerItemID,
			ProviderDomain:   p.domain,
			ProviderInstance: p.instance,
			Available:        true,
		}},
	}}
}

func providerAlbum(p *fakeProvider, providerItemID, name string, artists ...media.ItemRef) *media.Album {
	return &media.Album{
		Core: media.Core{
			ItemID:   providerItemID,
			Provider: p.instance,
			Name:     name,
			Mappings: media.MappingSet{{
				ItemID:           providerItemID,
				ProviderDomain:   p.domain,
				ProviderInstance: p.instance,
				Available:        true,
			}},
		},
		AlbumType: media.AlbumTypeAlbum,
		Artists:   artists,
	}
}

func providerTrack(p *fakeProvider, providerItemID, name string, artists ...media.ItemRef) *media.Track {
	return &media.Track{
		Core: media.Core{
			ItemID:   providerItemID,
			Provider: p.instance,
			Name:     name,
			Mappings: media.MappingSet{{
				ItemID:           providerItemID,
				ProviderDomain:   p.domain,
				ProviderInstance: p.instance,
				Available:        true,
			}},
		},
		Artists: artists,
	}
}

func countRows(t *testing.T, s *Set, table string) int {
	t.Helper()
	rows, err := s.store.GetRows(context.Background(), table, nil, "", 0)
	if err != nil {
		t.Fatalf("counting rows in %s: %v", table, err)
	}
	return len(rows)
}
