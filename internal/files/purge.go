package files

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/contentcms/pkg/db/models"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
)

// ObjectDeleter removes objects in bulk, reporting the keys it could not delete.
type ObjectDeleter interface {
	DeleteObjects(ctx context.Context, keys []string) ([]string, error)
}

// KeyOwnerLookup finds the file row stored under a key.
type KeyOwnerLookup interface {
	FindByKey(ctx context.Context, key string, includeDeleted bool) (*models.File, error)
}

// UnclaimedKeys drops every key still held by a file row outside owners, trashed rows
// included. Keys with no row, or whose row is one of owners, are kept.
func UnclaimedKeys(ctx context.Context, lookup KeyOwnerLookup, keys []string, owners []uuid.UUID) ([]string, error) {
	allowed := make(map[uuid.UUID]struct{}, len(owners))
	for _, id := range owners {
		allowed[id] = struct{}{}
	}
	kept := make([]string, 0, len(keys))
	for _, key := range keys {
		file, err := lookup.FindByKey(ctx, key, true)
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			kept = append(kept, key)
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, ok := allowed[file.ID]; ok {
			kept = append(kept, key)
		}
	}
	return kept, nil
}

// PurgeKeys deletes keys, retrying only the failures up to retries more times. It returns
// the keys that are still present and every error seen along the way.
func PurgeKeys(ctx context.Context, store ObjectDeleter, keys []string, retries int, backoff time.Duration) ([]string, error) {
	pending := keys
	var errs error
	for attempt := 0; len(pending) > 0; attempt++ {
		failed, err := store.DeleteObjects(ctx, pending)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		pending = failed
		if len(pending) == 0 || attempt >= retries {
			break
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return pending, multierr.Append(errs, ctx.Err())
			case <-time.After(backoff * time.Duration(attempt+1)):
			}
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return pending, errs
}
