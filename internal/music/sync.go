package music

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harmonia-music/harmonia/internal/event"
	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
)

// SyncTask describes one in-flight provider synchronization. At most one
// task runs per (provider instance, media type) pair at a time.
type SyncTask struct {
	ProviderDomain   string     `json:"provider_domain"`
	ProviderInstance string     `json:"provider_instance"`
	MediaType        media.Type `json:"media_type"`
	Started          time.Time  `json:"started"`

	cancel context.CancelFunc
}

func syncKey(instance string, t media.Type) string {
	return instance + "." + string(t)
}

// InProgressSyncs returns a snapshot of the currently running sync tasks.
func (s *Set) InProgressSyncs() []SyncTask {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	out := make([]SyncTask, 0, len(s.syncs))
	for _, t := range s.syncs {
		out = append(out, *t)
	}
	return out
}

// CancelSync cancels a running sync for the given provider instance and
// media type, if any.
func (s *Set) CancelSync(instance string, t media.Type) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if task, ok := s.syncs[syncKey(instance, t)]; ok {
		task.cancel()
	}
}

// RunSync imports the library listings of the given providers into the
// canonical library. Empty instances means every active provider; empty
// types means every media type. A provider/type pair already syncing is
// skipped. Blocks until all started work settles.
func (s *Set) RunSync(ctx context.Context, instances []string, types []media.Type) error {
	if len(types) == 0 {
		types = []media.Type{media.TypeArtist, media.TypeAlbum, media.TypeTrack, media.TypePlaylist}
	}

	var providers []provider.Provider
	if len(instances) == 0 {
		providers = s.registry.Active()
	} else {
		for _, inst := range instances {
			if p := s.registry.Get(inst); p != nil {
				providers = append(providers, p)
			} else {
				s.logger.Warn("sync requested for unknown provider", "provider", inst)
			}
		}
	}

	var g errgroup.Group
	g.SetLimit(s.syncLimit)
	for _, p := range providers {
		p := p
		for _, t := range types {
			t := t
			if !provider.Supports(p, libraryFeature(t)) {
				continue
			}
			task, taskCtx, ok := s.registerSync(ctx, p, t)
			if !ok {
				s.logger.Info("sync already running, skipping",
					"provider", p.Instance(), "media_type", string(t))
				continue
			}
			g.Go(func() error {
				defer s.finishSync(task)
				s.bus.Publish(event.Event{Type: event.SyncStarted, Data: *task})
				if err := s.syncProviderType(taskCtx, p, t); err != nil {
					s.logger.Error("sync failed",
						"provider", p.Instance(), "media_type", string(t), "error", err)
				}
				s.bus.Publish(event.Event{Type: event.SyncCompleted, Data: *task})
				return nil
			})
		}
	}
	return g.Wait()
}

func (s *Set) registerSync(ctx context.Context, p provider.Provider, t media.Type) (*SyncTask, context.Context, bool) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	key := syncKey(p.Instance(), t)
	if _, exists := s.syncs[key]; exists {
		return nil, nil, false
	}
	taskCtx, cancel := context.WithCancel(ctx)
	task := &SyncTask{
		ProviderDomain:   p.Domain(),
		ProviderInstance: p.Instance(),
		MediaType:        t,
		Started:          time.Now().UTC(),
		cancel:           cancel,
	}
	s.syncs[key] = task
	return task, taskCtx, true
}

func (s *Set) finishSync(task *SyncTask) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	task.cancel()
	delete(s.syncs, syncKey(task.ProviderInstance, task.MediaType))
}

// syncProviderType imports one provider's library listing of one media
// type. Every listed item is flagged in-library and run through the
// identity-resolving add; items the library already knows merge into their
// canonical rows.
func (s *Set) syncProviderType(ctx context.Context, p provider.Provider, t media.Type) error {
	if err := s.limiters.Wait(ctx, p.Instance()); err != nil {
		return err
	}

	switch t {
	case media.TypeArtist:
		items, err := p.GetLibraryArtists(ctx)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			prepareSyncItem(&it.Core, p)
			if _, err := s.Artists.Add(ctx, it, false); err != nil {
				s.logger.Warn("sync add failed", "media_type", string(t), "name", it.Name, "error", err)
			}
		}
	case media.TypeAlbum:
		items, err := p.GetLibraryAlbums(ctx)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			prepareSyncItem(&it.Core, p)
			if _, err := s.Albums.Add(ctx, it, false); err != nil {
				s.logger.Warn("sync add failed", "media_type", string(t), "name", it.Name, "error", err)
			}
		}
	case media.TypeTrack:
		items, err := p.GetLibraryTracks(ctx)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			prepareSyncItem(&it.Core, p)
			if _, err := s.Tracks.Add(ctx, it, false); err != nil {
				s.logger.Warn("sync add failed", "media_type", string(t), "name", it.Name, "error", err)
			}
		}
	case media.TypePlaylist:
		items, err := p.GetLibraryPlaylists(ctx)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			prepareSyncItem(&it.Core, p)
			if _, err := s.Playlists.Add(ctx, it, false); err != nil {
				s.logger.Warn("sync add failed", "media_type", string(t), "name", it.Name, "error", err)
			}
		}
	default:
		return fmt.Errorf("unknown media type %q", t)
	}
	return nil
}

// prepareSyncItem marks a provider library item for canonical storage:
// present in the provider's own library means in ours too, and the item
// must carry a mapping back to where it came from.
func prepareSyncItem(c *media.Core, p provider.Provider) {
	c.InLibrary = true
	if len(c.Mappings) == 0 && c.ItemID != "" {
		c.Mappings = media.MappingSet{{
			ItemID:           c.ItemID,
			ProviderDomain:   p.Domain(),
			ProviderInstance: p.Instance(),
			Available:        true,
		}}
	}
}

func libraryFeature(t media.Type) provider.Feature {
	switch t {
	case media.TypeArtist:
		return provider.FeatureLibraryArtists
	case media.TypeAlbum:
		return provider.FeatureLibraryAlbums
	case media.TypeTrack:
		return provider.FeatureLibraryTracks
	case media.TypePlaylist:
		return provider.FeatureLibraryPlaylists
	default:
		return ""
	}
}
