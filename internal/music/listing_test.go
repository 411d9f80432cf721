package music

import (
	"context"
	"testing"
	"time"

	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
)

func TestAlbumsCacheChecksumInvalidation(t *testing.T) {
	spotify := newFakeProvider("spotify", "spotify-1", provider.FeatureArtistAlbums)
	spotify.artistAlbums["sp-1"] = []*media.Album{
		providerAlbum(spotify, "sp-al-1", "OK Computer"),
	}
	s := setupSet(t, spotify)
	ctx := context.Background()

	artist, err := s.Artists.Add(ctx, providerArtist(spotify, "sp-1", "Radiohead"), false)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	artist.Metadata.Checksum = "v1"

	albums, err := s.Artists.Albums(ctx, artist)
	if err != nil {
		t.Fatalf("Albums: %v", err)
	}
	if len(albums) != 1 {
		t.Fatalf("albums = %d, want 1", len(albums))
	}
	if got := spotify.callCount("GetArtistAlbums"); got != 1 {
		t.Fatalf("provider calls after first listing = %d, want 1", got)
	}

	// The cache write is fire-and-forget; wait for it to land.
	waitForCacheEntry(t, s, "spotify-1."+listingArtistAlbums+".sp-1", "v1")

	if _, err := s.Artists.Albums(ctx, artist); err != nil {
		t.Fatalf("Albums (cached): %v", err)
	}
	if got := spotify.callCount("GetArtistAlbums"); got != 1 {
		t.Errorf("provider calls after cached listing = %d, want 1", got)
	}

	// A changed checksum is an explicit invalidation signal, not a TTL.
	artist.Metadata.Checksum = "v2"
	if _, err := s.Artists.Albums(ctx, artist); err != nil {
		t.Fatalf("Albums (invalidated): %v", err)
	}
	if got := spotify.callCount("GetArtistAlbums"); got != 2 {
		t.Errorf("provider calls after checksum change = %d, want 2", got)
	}
}

func waitForCacheEntry(t *testing.T, s *Set, key, checksum string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.cache.Get(context.Background(), key, checksum); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cache entry %q never appeared", key)
}

func TestAlbumsFanOutToleratesFailingProvider(t *testing.T) {
	spotify := newFakeProvider("spotify", "spotify-1", provider.FeatureArtistAlbums)
	spotify.artistAlbums["sp-1"] = []*media.Album{
		providerAlbum(spotify, "sp-al-1", "In Rainbows"),
	}
	tidal := newFakeProvider("tidal", "tidal-1", provider.FeatureArtistAlbums)
	tidal.failListings = true
	s := setupSet(t, spotify, tidal)
	ctx := context.Background()

	artist, err := s.Artists.Add(ctx, providerArtist(spotify, "sp-1", "Radiohead"), false)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	tidalArtist := providerArtist(tidal, "td-1", "Radiohead")
	artist, err = s.Artists.Update(ctx, artist.ItemID, tidalArtist, false)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(artist.Mappings) != 2 {
		t.Fatalf("mappings = %d, want 2", len(artist.Mappings))
	}

	albums, err := s.Artists.Albums(ctx, artist)
	if err != nil {
		t.Fatalf("Albums: %v", err)
	}
	if len(albums) != 1 || albums[0].Name != "In Rainbows" {
		t.Errorf("albums = %v, want the one spotify album", albums)
	}
}

func TestAlbumsMergeAcrossProviders(t *testing.T) {
	spotify := newFakeProvider("spotify", "spotify-1", provider.FeatureArtistAlbums)
	tidal := newFakeProvider("tidal", "tidal-1", provider.FeatureArtistAlbums)
	spotify.artistAlbums["sp-1"] = []*media.Album{
		providerAlbum(spotify, "sp-al-1", "Kid A"),
	}
	inLib := providerAlbum(tidal, "td-al-1", "Kid A")
	inLib.InLibrary = true
	tidal.artistAlbums["td-1"] = []*media.Album{inLib}
	s := setupSet(t, spotify, tidal)
	ctx := context.Background()

	artist, err := s.Artists.Add(ctx, providerArtist(spotify, "sp-1", "Radiohead"), false)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	artist, err = s.Artists.Update(ctx, artist.ItemID, providerArtist(tidal, "td-1", "Radiohead"), false)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	albums, err := s.Artists.Albums(ctx, artist)
	if err != nil {
		t.Fatalf("Albums: %v", err)
	}
	if len(albums) != 1 {
		t.Fatalf("merged albums = %d, want 1", len(albums))
	}
	got := albums[0]
	if !got.InLibrary {
		t.Error("in_library lost during merge, want logical OR")
	}
	if len(got.Mappings) != 2 {
		t.Errorf("merged mappings = %d, want 2", len(got.Mappings))
	}
}

func TestMergeChildrenORSemantics(t *testing.T) {
	a := &media.Track{Core: media.Core{
		Name: "Pyramid Song",
		Mappings: media.MappingSet{{
			ItemID: "sp-1", ProviderDomain: "spotify", ProviderInstance: "spotify-1",
		}},
	}}
	b := &media.Track{Core: media.Core{
		Name:      "Pyramid Song",
		InLibrary: true,
		Mappings: media.MappingSet{{
			ItemID: "td-1", ProviderDomain: "tidal", ProviderInstance: "tidal-1",
		}},
	}}

	merged := mergeChildren([]*media.Track{a, b})
	if len(merged) != 1 {
		t.Fatalf("merged = %d items, want 1", len(merged))
	}
	if !merged[0].InLibrary {
		t.Error("in_library = false, want true (logical OR)")
	}
	if len(merged[0].Mappings) != 2 {
		t.Errorf("mappings = %d, want 2", len(merged[0].Mappings))
	}
}

func TestMergeChildrenKeepsDistinctVersions(t *testing.T) {
	a := &media.Track{Core: media.Core{Name: "Creep"}}
	b := &media.Track{Core: media.Core{Name: "Creep", Version: "Acoustic"}}
	merged := mergeChildren([]*media.Track{a, b})
	if len(merged) != 2 {
		t.Fatalf("merged = %d items, want 2 (different versions)", len(merged))
	}
}

func TestUnknownProviderMappingYieldsEmptyListing(t *testing.T) {
	s := setupSet(t)
	ctx := context.Background()

	artist := &media.Artist{Core: media.Core{
		Provider: media.ProviderLibrary,
		Name:     "Ghost",
		Mappings: media.MappingSet{{
			ItemID: "gone-1", ProviderDomain: "gone", ProviderInstance: "gone-1",
		}},
	}}
	albums, err := s.Artists.Albums(ctx, artist)
	if err != nil {
		t.Fatalf("Albums: %v", err)
	}
	if len(albums) != 0 {
		t.Errorf("albums = %d, want 0", len(albums))
	}
}

func TestAlbumTracksFallsBackToLocalRows(t *testing.T) {
	// Provider without the album-tracks capability: the listing is
	// approximated from rows already in the library.
	spotify := newFakeProvider("spotify", "spotify-1")
	s := setupSet(t, spotify)
	ctx := context.Background()

	artist, err := s.Artists.Add(ctx, providerArtist(spotify, "sp-1", "Elbow"), false)
	if err != nil {
		t.Fatalf("add artist: %v", err)
	}
	ref := media.RefOf(artist)
	album, err := s.Albums.Add(ctx, providerAlbum(spotify, "sp-al-1", "Build a Rocket Boys!", ref), false)
	if err != nil {
		t.Fatalf("add album: %v", err)
	}
	track := providerTrack(spotify, "sp-tr-1", "Lippy Kids", ref)
	albumRef := media.RefOf(album)
	track.Album = &albumRef
	if _, err := s.Tracks.Add(ctx, track, false); err != nil {
		t.Fatalf("add track: %v", err)
	}

	tracks, err := s.Albums.Tracks(ctx, album)
	if err != nil {
		t.Fatalf("Tracks: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Name != "Lippy Kids" {
		t.Errorf("tracks = %v, want the locally known track", tracks)
	}
	if got := spotify.callCount("GetAlbumTracks"); got != 0 {
		t.Errorf("GetAlbumTracks calls = %d, want 0 (no capability)", got)
	}
}

func TestPlaylistTracksAssignPositions(t *testing.T) {
	spotify := newFakeProvider("spotify", "spotify-1", provider.FeaturePlaylistTracks)
	spotify.playlistTracks["sp-pl-1"] = []*media.Track{
		providerTrack(spotify, "sp-tr-1", "First"),
		providerTrack(spotify, "sp-tr-2", "Second"),
	}
	s := setupSet(t, spotify)
	ctx := context.Background()

	pl := &media.Playlist{Core: media.Core{
		Name: "Mix",
		Mappings: media.MappingSet{{
			ItemID: "sp-pl-1", ProviderDomain: "spotify", ProviderInstance: "spotify-1", Available: true,
		}},
	}}
	added, err := s.Playlists.Add(ctx, pl, false)
	if err != nil {
		t.Fatalf("add playlist: %v", err)
	}

	tracks, err := s.Playlists.Tracks(ctx, added)
	if err != nil {
		t.Fatalf("Tracks: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("tracks = %d, want 2", len(tracks))
	}
	if tracks[0].Position != 1 || tracks[1].Position != 2 {
		t.Errorf("positions = %d,%d, want 1,2", tracks[0].Position, tracks[1].Position)
	}
}
