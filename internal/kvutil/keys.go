package kvutil

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// PathToKey maps a hierarchical "/a/b/c" path to the KV key "a.b.c".
func PathToKey(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}

// KeyToPath maps a KV key "a.b.c" back to the path "/a/b/c".
func KeyToPath(key string) string {
	return "/" + strings.ReplaceAll(key, ".", "/")
}

// SubtreeFilters returns the subject filters matching key and everything below it.
func SubtreeFilters(key string) []string {
	return []string{key, key + ".>"}
}

// ListKeys lists the keys of kv matching filters.
//
// An empty bucket is not an error: it yields an empty slice.
//
// Parameters:
//   - ctx: Context for cancellation
//   - kv: Bucket to list
//   - filters: Subject filters; all keys when empty
//
// Returns:
//   - []string: Matching keys in stream order
//   - error: Listing failure
func ListKeys(ctx context.Context, kv jetstream.KeyValue, filters ...string) ([]string, error) {
	var (
		lister jetstream.KeyLister
		err    error
	)
	if len(filters) == 0 {
		lister, err = kv.ListKeys(ctx)
	} else {
		lister, err = kv.ListKeysFiltered(ctx, filters...)
	}
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}

		return nil, err
	}
	defer func() { _ = lister.Stop() }()

	keys := make([]string, 0)
	for key := range lister.Keys() {
		keys = append(keys, key)
	}

	return keys, nil
}
