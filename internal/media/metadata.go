package media

// ImageType classifies an item image.
type ImageType string

// Known image types.
const (
	ImageThumb  ImageType = "thumb"
	ImageFanart ImageType = "fanart"
	ImageBanner ImageType = "banner"
)

// Image is a single item image. Path is either a plain URL (Provider "url")
// or a provider-specific path that needs to be resolved by that provider.
type Image struct {
	Type     ImageType `json:"type"`
	Path     string    `json:"path"`
	Provider string    `json:"provider"`
}

// Metadata is the mergeable bag of descriptive attributes attached to every
// media item. Checksum is an opaque version marker for externally-fetched
// metadata, used for explicit cache invalidation rather than TTL.
type Metadata struct {
	Description string            `json:"description,omitempty"`
	Images      []Image           `json:"images,omitempty"`
	Genres      []string          `json:"genres,omitempty"`
	Mood        string            `json:"mood,omitempty"`
	Explicit    *bool             `json:"explicit,omitempty"`
	Links       map[string]string `json:"links,omitempty"`
	Popularity  int               `json:"popularity,omitempty"`
	LastRefresh int64             `json:"last_refresh,omitempty"`
	Checksum    string            `json:"checksum,omitempty"`
}

// Merge combines incoming metadata into m. Scalar fields already set are
// kept unless overwrite is true; list fields are unioned; Checksum,
// Popularity and LastRefresh always take the incoming value when non-zero.
func (m *Metadata) Merge(in Metadata, overwrite bool) {
	if in.Description != "" && (m.Description == "" || overwrite) {
		m.Description = in.Description
	}
	if in.Mood != "" && (m.Mood == "" || overwrite) {
		m.Mood = in.Mood
	}
	if in.Explicit != nil && (m.Explicit == nil || overwrite) {
		v := *in.Explicit
		m.Explicit = &v
	}
	if overwrite && len(in.Images) > 0 {
		m.Images = in.Images
	} else {
		m.Images = mergeImages(m.Images, in.Images)
	}
	m.Genres = mergeStrings(m.Genres, in.Genres)
	if len(in.Links) > 0 {
		if m.Links == nil {
			m.Links = make(map[string]string, len(in.Links))
		}
		for k, v := range in.Links {
			if _, ok := m.Links[k]; !ok || overwrite {
				m.Links[k] = v
			}
		}
	}
	if in.Popularity != 0 {
		m.Popularity = in.Popularity
	}
	if in.LastRefresh != 0 {
		m.LastRefresh = in.LastRefresh
	}
	if in.Checksum != "" {
		m.Checksum = in.Checksum
	}
}

func mergeStrings(cur, in []string) []string {
	if len(in) == 0 {
		return cur
	}
	seen := make(map[string]struct{}, len(cur))
	for _, s := range cur {
		seen[s] = struct{}{}
	}
	for _, s := range in {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			cur = append(cur, s)
		}
	}
	return cur
}

func mergeImages(cur, in []Image) []Image {
	if len(in) == 0 {
		return cur
	}
	seen := make(map[string]struct{}, len(cur))
	for _, img := range cur {
		seen[string(img.Type)+"\x00"+img.Path] = struct{}{}
	}
	for _, img := range in {
		key := string(img.Type) + "\x00" + img.Path
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			cur = append(cur, img)
		}
	}
	return cur
}
