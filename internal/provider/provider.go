// Package provider defines the capability contract every music provider
// plugin implements, plus the registry the core uses to resolve and
// enumerate active providers. Concrete provider clients (streaming APIs,
// filesystem scanners) live outside this module; the core only calls
// through the interface defined here.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harmonia-music/harmonia/internal/media"
)

// Feature identifies an optional provider capability. The core checks
// features before calling the corresponding method and falls back to a
// local approximation (or an unsupported error) when absent.
type Feature string

// Known features.
const (
	FeatureSearch             Feature = "search"
	FeatureLibraryArtists     Feature = "library_artists"
	FeatureLibraryAlbums      Feature = "library_albums"
	FeatureLibraryTracks      Feature = "library_tracks"
	FeatureLibraryPlaylists   Feature = "library_playlists"
	FeatureArtistAlbums       Feature = "artist_albums"
	FeatureArtistTopTracks    Feature = "artist_toptracks"
	FeatureAlbumTracks        Feature = "album_tracks"
	FeaturePlaylistTracks     Feature = "playlist_tracks"
	FeaturePlaylistTracksEdit Feature = "playlist_tracks_edit"
	FeaturePlaylistCreate     Feature = "playlist_create"
	FeatureSimilarTracks      Feature = "similar_tracks"
)

// ErrUnsupported indicates the provider lacks a requested optional feature.
var ErrUnsupported = errors.New("provider: unsupported feature")

// SearchResults holds per-type results from a provider search.
type SearchResults struct {
	Artists   []*media.Artist
	Albums    []*media.Album
	Tracks    []*media.Track
	Playlists []*media.Playlist
}

// Provider is the capability interface implemented by every provider
// plugin. Domain identifies the provider type ("spotify", "filesystem"),
// Instance the specific configured instance of it. Any call may fail; the
// core treats failure as "no data from this provider", never as fatal.
type Provider interface {
	Domain() string
	Instance() string
	DisplayName() string
	Features() []Feature

	GetArtist(ctx context.Context, id string) (*media.Artist, error)
	GetAlbum(ctx context.Context, id string) (*media.Album, error)
	GetTrack(ctx context.Context, id string) (*media.Track, error)
	GetPlaylist(ctx context.Context, id string) (*media.Playlist, error)

	GetLibraryArtists(ctx context.Context) ([]*media.Artist, error)
	GetLibraryAlbums(ctx context.Context) ([]*media.Album, error)
	GetLibraryTracks(ctx context.Context) ([]*media.Track, error)
	GetLibraryPlaylists(ctx context.Context) ([]*media.Playlist, error)

	GetArtistAlbums(ctx context.Context, id string) ([]*media.Album, error)
	GetArtistTopTracks(ctx context.Context, id string) ([]*media.Track, error)
	GetAlbumTracks(ctx context.Context, id string) ([]*media.Track, error)
	GetPlaylistTracks(ctx context.Context, id string) ([]*media.Track, error)

	Search(ctx context.Context, query string, mediaType media.Type, limit int) (*SearchResults, error)
	GetSimilarTracks(ctx context.Context, trackID string, limit int) ([]*media.Track, error)

	AddPlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error
	RemovePlaylistTracks(ctx context.Context, playlistID string, positions []int) error
	CreatePlaylist(ctx context.Context, name string) (*media.Playlist, error)
}

// Supports reports whether the provider declares the given feature.
func Supports(p Provider, f Feature) bool {
	for _, have := range p.Features() {
		if have == f {
			return true
		}
	}
	return false
}

// IsFileDomain reports whether a provider domain is a file-based/local
// provider. File providers are authoritative for core display fields.
func IsFileDomain(domain string) bool {
	return strings.HasPrefix(domain, "filesystem")
}

// Unimplemented provides "unsupported" defaults for every optional
// capability so plugins only implement what they declare. Embed it and
// override the methods matching the declared feature set.
type Unimplemented struct{}

func (Unimplemented) GetLibraryArtists(context.Context) ([]*media.Artist, error) {
	return nil, ErrUnsupported
}

func (Unimplemented) GetLibraryAlbums(context.Context) ([]*media.Album, error) {
	return nil, ErrUnsupported
}

func (Unimplemented) GetLibraryTracks(context.Context) ([]*media.Track, error) {
	return nil, ErrUnsupported
}

func (Unimplemented) GetLibraryPlaylists(context.Context) ([]*media.Playlist, error) {
	return nil, ErrUnsupported
}

func (Unimplemented) GetArtistAlbums(context.Context, string) ([]*media.Album, error) {
	return nil, ErrUnsupported
}

func (Unimplemented) GetArtistTopTracks(context.Context, string) ([]*media.Track, error) {
	return nil, ErrUnsupported
}

func (Unimplemented) GetAlbumTracks(context.Context, string) ([]*media.Track, error) {
	return nil, ErrUnsupported
}

func (Unimplemented) GetPlaylistTracks(context.Context, string) ([]*media.Track, error) {
	return nil, ErrUnsupported
}

func (Unimplemented) Search(context.Context, string, media.Type, int) (*SearchResults, error) {
	return nil, ErrUnsupported
}

func (Unimplemented) GetSimilarTracks(context.Context, string, int) ([]*media.Track, error) {
	return nil, ErrUnsupported
}

func (Unimplemented) AddPlaylistTracks(context.Context, string, []string) error {
	return ErrUnsupported
}

func (Unimplemented) RemovePlaylistTracks(context.Context, string, []int) error {
	return ErrUnsupported
}

func (Unimplemented) CreatePlaylist(context.Context, string) (*media.Playlist, error) {
	return nil, ErrUnsupported
}

// UnavailableError indicates a transient provider failure (rate-limited,
// timeout, server error). The core never retries these itself.
type UnavailableError struct {
	Provider   string
	Cause      error
	RetryAfter time.Duration
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }
