package analysis

import (
	"context"
	"log/slog"
	"time"
)

// PurgeExpiredVideos deletes stored videos older than retention. Their cue
// records are kept.
func PurgeExpiredVideos(ctx context.Context, repo *Repository, storage ObjectStorage, retention time.Duration) {
	expired, err := repo.listExpired(ctx, retention)
	if err != nil {
		slog.Error("cleanup: failed to query expired videos", "error", err)
		return
	}

	for _, v := range expired {
		if err := deleteWithRetry(ctx, storage, v.FileKey, 3); err != nil {
			slog.Error("cleanup: failed to delete video", "key", v.FileKey, "error", err)
			continue
		}
		if err := repo.markPurged(ctx, v.ID); err != nil {
			slog.Error("cleanup: failed to mark purged", "analysis_id", v.ID, "error", err)
		}
	}
	if len(expired) > 0 {
		slog.Info("cleanup: purged videos", "count", len(expired))
	}
}

func deleteWithRetry(ctx context.Context, storage ObjectStorage, key string, attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = storage.Remove(ctx, key); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return err
}

func StartCleanupLoop(ctx context.Context, repo *Repository, storage ObjectStorage, retention, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("cleanup: shutting down")
				return
			case <-ticker.C:
				PurgeExpiredVideos(ctx, repo, storage, retention)
			}
		}
	}()
}
