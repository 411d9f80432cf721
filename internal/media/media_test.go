package media

import (
	"testing"
	"time"
)

func TestMappingSetUnion(t *testing.T) {
	a := MappingSet{
		{ItemID: "1", ProviderDomain: "spotify", ProviderInstance: "spotify-1"},
	}
	b := MappingSet{
		{ItemID: "1", ProviderDomain: "spotify", ProviderInstance: "spotify-1"},
		{ItemID: "9", ProviderDomain: "tidal", ProviderInstance: "tidal-1"},
	}
	got := a.Union(b)
	if len(got) != 2 {
		t.Fatalf("union size = %d, want 2", len(got))
	}
	if got[0].ProviderDomain != "spotify" {
		t.Errorf("union reordered existing entries: %+v", got)
	}
}

func TestMappingSetForInstance(t *testing.T) {
	s := MappingSet{
		{ItemID: "1", ProviderDomain: "spotify", ProviderInstance: "spotify-1"},
	}
	if _, ok := s.ForInstance("spotify-1"); !ok {
		t.Error("instance lookup failed")
	}
	if _, ok := s.ForInstance("spotify"); !ok {
		t.Error("domain lookup failed")
	}
	if _, ok := s.ForInstance("tidal"); ok {
		t.Error("unknown provider resolved")
	}
}

func TestURI(t *testing.T) {
	a := &Artist{Core: Core{ItemID: "abc", Provider: ProviderLibrary, Name: "X"}}
	if got := ItemURI(a); got != "library://artist/abc" {
		t.Errorf("uri = %q, want library://artist/abc", got)
	}
}

func TestMetadataMergeKeepsExistingScalars(t *testing.T) {
	m := Metadata{Description: "original", Genres: []string{"rock"}}
	m.Merge(Metadata{Description: "incoming", Genres: []string{"rock", "electronic"}, Checksum: "c2"}, false)

	if m.Description != "original" {
		t.Errorf("description = %q, want original kept", m.Description)
	}
	if len(m.Genres) != 2 {
		t.Errorf("genres = %v, want union of both", m.Genres)
	}
	if m.Checksum != "c2" {
		t.Errorf("checksum = %q, want incoming value", m.Checksum)
	}
}

func TestMetadataMergeOverwrite(t *testing.T) {
	m := Metadata{Description: "original"}
	m.Merge(Metadata{Description: "incoming"}, true)
	if m.Description != "incoming" {
		t.Errorf("description = %q, want overwritten", m.Description)
	}
}

func TestCoreTouch(t *testing.T) {
	c := &Core{}
	c.Touch(time.Now())
	if c.TimestampAdded == 0 || c.TimestampModified == 0 {
		t.Fatal("timestamps not set on first touch")
	}
	added := c.TimestampAdded
	c.TimestampModified = 0
	c.Touch(time.Now())
	if c.TimestampAdded != added {
		t.Error("added timestamp changed on second touch")
	}
	if c.TimestampModified == 0 {
		t.Error("modified timestamp not set on second touch")
	}
}
