// Package media defines the canonical library data model: artists, albums,
// tracks and playlists, plus the provider mappings that link each canonical
// item back to its representation on one or more providers.
package media

import (
	"fmt"
	"time"
)

// Type identifies a media item kind.
type Type string

// Known media types.
const (
	TypeArtist   Type = "artist"
	TypeAlbum    Type = "album"
	TypeTrack    Type = "track"
	TypePlaylist Type = "playlist"
	TypeUnknown  Type = "unknown"
)

// ProviderLibrary is the pseudo provider domain/instance used for canonical
// (locally persisted) items. Items sourced from a real provider carry that
// provider's instance id instead.
const ProviderLibrary = "library"

// Reserved aggregate-contributor entity. Providers disagree on formatting
// ("Various Artists", "various artists", "VA"); incoming items matching the
// sentinel name are canonicalized to this exact name and external id.
const (
	VariousArtists   = "Various Artists"
	VariousArtistsID = "89ad4ac3-39f7-470e-963a-56509c546377"
)

// AlbumType classifies an album release.
type AlbumType string

// Known album types.
const (
	AlbumTypeAlbum       AlbumType = "album"
	AlbumTypeSingle      AlbumType = "single"
	AlbumTypeEP          AlbumType = "ep"
	AlbumTypeCompilation AlbumType = "compilation"
	AlbumTypeUnknown     AlbumType = "unknown"
)

// ProviderMapping links one canonical media item to its id on one provider
// instance. Uniqueness key is (provider_domain, provider item id).
type ProviderMapping struct {
	ItemID           string `json:"item_id"`
	ProviderDomain   string `json:"provider_domain"`
	ProviderInstance string `json:"provider_instance"`
	Available        bool   `json:"available"`
	URL              string `json:"url,omitempty"`
	Details          string `json:"details,omitempty"`
}

// Key returns the mapping's uniqueness key within one canonical item.
func (m ProviderMapping) Key() string {
	return m.ProviderDomain + "\x00" + m.ItemID
}

// MappingSet is an ordered set of provider mappings, deduplicated by Key.
type MappingSet []ProviderMapping

// Contains reports whether the set holds a mapping with the same key.
func (s MappingSet) Contains(m ProviderMapping) bool {
	for _, x := range s {
		if x.Key() == m.Key() {
			return true
		}
	}
	return false
}

// Union returns the set union of s and other, keeping s's order and
// appending new entries from other. Duplicates collapse on Key.
func (s MappingSet) Union(other MappingSet) MappingSet {
	out := make(MappingSet, 0, len(s)+len(other))
	seen := make(map[string]struct{}, len(s)+len(other))
	for _, m := range s {
		if _, ok := seen[m.Key()]; ok {
			continue
		}
		seen[m.Key()] = struct{}{}
		out = append(out, m)
	}
	for _, m := range other {
		if _, ok := seen[m.Key()]; ok {
			continue
		}
		seen[m.Key()] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Domains returns the set of provider domains present in the mapping set.
func (s MappingSet) Domains() map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for _, m := range s {
		out[m.ProviderDomain] = struct{}{}
	}
	return out
}

// ForInstance returns the first mapping for the given provider instance or
// domain, if any.
func (s MappingSet) ForInstance(domainOrInstance string) (ProviderMapping, bool) {
	for _, m := range s {
		if m.ProviderInstance == domainOrInstance || m.ProviderDomain == domainOrInstance {
			return m, true
		}
	}
	return ProviderMapping{}, false
}

// Core holds the fields shared by every media item variant.
type Core struct {
	ItemID string `json:"item_id"`
	// Provider is the source of this in-memory object: a provider instance
	// id for provider-sourced items, ProviderLibrary for canonical rows.
	Provider string `json:"provider"`
	Name     string `json:"name"`
	SortName string `json:"sort_name"`
	Version  string `json:"version,omitempty"`
	// ExternalID is a canonical cross-catalog identifier (e.g. a
	// MusicBrainz id). Strongest identity signal when present.
	ExternalID        string     `json:"external_id,omitempty"`
	Metadata          Metadata   `json:"metadata"`
	Mappings          MappingSet `json:"provider_mappings"`
	InLibrary         bool       `json:"in_library"`
	TimestampAdded    int64      `json:"timestamp_added"`
	TimestampModified int64      `json:"timestamp_modified"`
}

// Common returns the shared core of the item. Used by the generic
// controller to manipulate any item variant uniformly.
func (c *Core) Common() *Core { return c }

// IsCanonical reports whether the item is a canonical (locally stored) item.
func (c *Core) IsCanonical() bool { return c.Provider == ProviderLibrary }

// Normalize fills derived fields that callers commonly leave empty.
func (c *Core) Normalize() {
	if c.SortName == "" {
		c.SortName = SortNameOf(c.Name)
	}
}

// Touch updates the modified timestamp; also sets the added timestamp when
// the item has never been persisted.
func (c *Core) Touch(now time.Time) {
	ts := now.UTC().Unix()
	if c.TimestampAdded == 0 {
		c.TimestampAdded = ts
	}
	c.TimestampModified = ts
}

// Item is implemented by every media item variant.
type Item interface {
	Common() *Core
	Kind() Type
}

// URI returns the canonical uri for an item of the given kind, e.g.
// "library://artist/3f2a..." or "spotify://track/6f8a...".
func URI(kind Type, provider, itemID string) string {
	return fmt.Sprintf("%s://%s/%s", provider, kind, itemID)
}

// ItemURI returns the uri of an item.
func ItemURI(it Item) string {
	c := it.Common()
	return URI(it.Kind(), c.Provider, c.ItemID)
}

// ItemRef is a lightweight reference to another item (id + name + provider),
// used for relationship fields when the full record is not locally resident.
// A referenced item is never authoritative; fetch the full record before
// mutating it.
type ItemRef struct {
	MediaType Type   `json:"media_type"`
	ItemID    string `json:"item_id"`
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	SortName  string `json:"sort_name"`
	Version   string `json:"version,omitempty"`
}

// RefOf creates an ItemRef from a full item.
func RefOf(it Item) ItemRef {
	c := it.Common()
	return ItemRef{
		MediaType: it.Kind(),
		ItemID:    c.ItemID,
		Provider:  c.Provider,
		Name:      c.Name,
		SortName:  c.SortName,
		Version:   c.Version,
	}
}

// Artist is a canonical or provider-sourced artist.
type Artist struct {
	Core
}

// Kind returns TypeArtist.
func (a *Artist) Kind() Type { return TypeArtist }

// Album is a canonical or provider-sourced album.
type Album struct {
	Core
	Year      int       `json:"year,omitempty"`
	AlbumType AlbumType `json:"album_type"`
	Artists   []ItemRef `json:"artists"`
	Barcodes  []string  `json:"barcodes,omitempty"`
}

// Kind returns TypeAlbum.
func (a *Album) Kind() Type { return TypeAlbum }

// Artist returns the album's first artist, or nil.
func (a *Album) Artist() *ItemRef {
	if len(a.Artists) == 0 {
		return nil
	}
	return &a.Artists[0]
}

// Track is a canonical or provider-sourced track.
type Track struct {
	Core
	Duration    int       `json:"duration,omitempty"`
	Artists     []ItemRef `json:"artists"`
	Album       *ItemRef  `json:"album,omitempty"`
	DiscNumber  int       `json:"disc_number,omitempty"`
	TrackNumber int       `json:"track_number,omitempty"`
	// Position is only set on playlist tracks.
	Position int      `json:"position,omitempty"`
	ISRCs    []string `json:"isrcs,omitempty"`
}

// Kind returns TypeTrack.
func (t *Track) Kind() Type { return TypeTrack }

// Artist returns the track's first artist, or nil.
func (t *Track) Artist() *ItemRef {
	if len(t.Artists) == 0 {
		return nil
	}
	return &t.Artists[0]
}

// Playlist is a canonical or provider-sourced playlist.
type Playlist struct {
	Core
	Owner      string `json:"owner,omitempty"`
	IsEditable bool   `json:"is_editable"`
}

// Kind returns TypePlaylist.
func (p *Playlist) Kind() Type { return TypePlaylist }
