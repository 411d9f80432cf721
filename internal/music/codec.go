package music

import (
	"encoding/json"

	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/store"
)

// Row codecs between the media item variants and the table rows holding
// them. Structured fields (metadata, mappings, artist refs) are JSON text
// columns; the codecs are the only place that shape is known.

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeJSON(s string, v any) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func coreToRow(c *media.Core, row store.Row) store.Row {
	row["item_id"] = c.ItemID
	row["name"] = c.Name
	row["sort_name"] = c.SortName
	row["external_id"] = c.ExternalID
	row["metadata"] = encodeJSON(c.Metadata)
	row["provider_mappings"] = encodeJSON(c.Mappings)
	row["in_library"] = boolInt(c.InLibrary)
	row["timestamp_added"] = c.TimestampAdded
	row["timestamp_modified"] = c.TimestampModified
	return row
}

func coreFromRow(row store.Row, c *media.Core) {
	c.ItemID = row.String("item_id")
	c.Provider = media.ProviderLibrary
	c.Name = row.String("name")
	c.SortName = row.String("sort_name")
	c.ExternalID = row.String("external_id")
	decodeJSON(row.String("metadata"), &c.Metadata)
	decodeJSON(row.String("provider_mappings"), &c.Mappings)
	c.InLibrary = row.Bool("in_library")
	c.TimestampAdded = row.Int64("timestamp_added")
	c.TimestampModified = row.Int64("timestamp_modified")
}

func artistToRow(a *media.Artist) store.Row {
	return coreToRow(&a.Core, store.Row{})
}

func artistFromRow(row store.Row) (*media.Artist, error) {
	a := &media.Artist{}
	coreFromRow(row, &a.Core)
	return a, nil
}

func albumToRow(a *media.Album) store.Row {
	row := coreToRow(&a.Core, store.Row{})
	row["version"] = a.Version
	row["year"] = int64(a.Year)
	row["album_type"] = string(a.AlbumType)
	row["artists"] = encodeJSON(a.Artists)
	row["sort_artist"] = sortArtistOf(a.Artists)
	row["barcodes"] = encodeJSON(a.Barcodes)
	return row
}

func albumFromRow(row store.Row) (*media.Album, error) {
	a := &media.Album{}
	coreFromRow(row, &a.Core)
	a.Version = row.String("version")
	a.Year = int(row.Int64("year"))
	a.AlbumType = media.AlbumType(row.String("album_type"))
	if a.AlbumType == "" {
		a.AlbumType = media.AlbumTypeUnknown
	}
	decodeJSON(row.String("artists"), &a.Artists)
	decodeJSON(row.String("barcodes"), &a.Barcodes)
	return a, nil
}

func trackToRow(t *media.Track) store.Row {
	row := coreToRow(&t.Core, store.Row{})
	row["version"] = t.Version
	row["duration"] = int64(t.Duration)
	row["isrcs"] = encodeJSON(t.ISRCs)
	row["artists"] = encodeJSON(t.Artists)
	row["disc_number"] = int64(t.DiscNumber)
	row["track_number"] = int64(t.TrackNumber)
	row["sort_artist"] = sortArtistOf(t.Artists)
	if t.Album != nil {
		row["album"] = encodeJSON(t.Album)
		row["sort_album"] = t.Album.SortName
	} else {
		row["album"] = ""
		row["sort_album"] = ""
	}
	return row
}

func trackFromRow(row store.Row) (*media.Track, error) {
	t := &media.Track{}
	coreFromRow(row, &t.Core)
	t.Version = row.String("version")
	t.Duration = int(row.Int64("duration"))
	decodeJSON(row.String("isrcs"), &t.ISRCs)
	decodeJSON(row.String("artists"), &t.Artists)
	t.DiscNumber = int(row.Int64("disc_number"))
	t.TrackNumber = int(row.Int64("track_number"))
	if s := row.String("album"); s != "" {
		var ref media.ItemRef
		decodeJSON(s, &ref)
		if ref.ItemID != "" {
			t.Album = &ref
		}
	}
	return t, nil
}

func playlistToRow(p *media.Playlist) store.Row {
	row := coreToRow(&p.Core, store.Row{})
	row["owner"] = p.Owner
	row["is_editable"] = boolInt(p.IsEditable)
	return row
}

func playlistFromRow(row store.Row) (*media.Playlist, error) {
	p := &media.Playlist{}
	coreFromRow(row, &p.Core)
	p.Owner = row.String("owner")
	p.IsEditable = row.Bool("is_editable")
	return p, nil
}

// sortArtistOf returns the first artist's sort name, the value the album
// and track tables index for artist-scoped lookups.
func sortArtistOf(refs []media.ItemRef) string {
	if len(refs) == 0 {
		return ""
	}
	if refs[0].SortName != "" {
		return refs[0].SortName
	}
	return media.SortNameOf(refs[0].Name)
}
