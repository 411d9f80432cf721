package music

import (
	"context"
	"testing"

	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
	"github.com/harmonia-music/harmonia/internal/store"
)

func TestRunSyncImportsProviderLibrary(t *testing.T) {
	spotify := newFakeProvider("spotify", "spotify-1",
		provider.FeatureLibraryArtists, provider.FeatureLibraryAlbums)
	spotify.libraryArtists = []*media.Artist{
		providerArtist(spotify, "sp-1", "Radiohead"),
		providerArtist(spotify, "sp-2", "Portishead"),
	}
	s := setupSet(t, spotify)
	ctx := context.Background()

	if err := s.RunSync(ctx, nil, []media.Type{media.TypeArtist}); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	artists, err := s.Artists.Library(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("Library: %v", err)
	}
	if len(artists) != 2 {
		t.Fatalf("library artists = %d, want 2", len(artists))
	}
	for _, a := range artists {
		if !a.InLibrary {
			t.Errorf("artist %q not flagged in_library after sync", a.Name)
		}
	}
}

func TestRunSyncIsIdempotent(t *testing.T) {
	spotify := newFakeProvider("spotify", "spotify-1", provider.FeatureLibraryArtists)
	spotify.libraryArtists = []*media.Artist{
		providerArtist(spotify, "sp-1", "Radiohead"),
	}
	s := setupSet(t, spotify)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.RunSync(ctx, nil, []media.Type{media.TypeArtist}); err != nil {
			t.Fatalf("RunSync #%d: %v", i+1, err)
		}
	}
	if n := countRows(t, s, store.TableArtists); n != 1 {
		t.Errorf("artist rows after two syncs = %d, want 1", n)
	}
}

func TestRunSyncSkipsUnsupportedTypes(t *testing.T) {
	// No library listing features at all: sync has nothing to do.
	spotify := newFakeProvider("spotify", "spotify-1")
	s := setupSet(t, spotify)

	if err := s.RunSync(context.Background(), nil, nil); err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if got := spotify.callCount("GetLibraryArtists"); got != 0 {
		t.Errorf("GetLibraryArtists calls = %d, want 0", got)
	}
	if n := countRows(t, s, store.TableArtists); n != 0 {
		t.Errorf("artist rows = %d, want 0", n)
	}
}

func TestInProgressSyncsEmptyWhenIdle(t *testing.T) {
	s := setupSet(t)
	if got := s.InProgressSyncs(); len(got) != 0 {
		t.Errorf("in-progress syncs = %d, want 0", len(got))
	}
}
