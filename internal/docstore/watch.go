package docstore

import (
	"context"
	"sort"
	"strings"
	"time"
)

const defaultWatchInterval = 3 * time.Second

// Watch polls a query and delivers a fresh snapshot whenever the result set
// changes. onChange runs on the watcher goroutine; onError receives query
// failures (the watcher keeps polling after a failure). The returned stop
// function tears the watcher down and is safe to call more than once.
func Watch(ctx context.Context, s Store, q Query, interval time.Duration, onChange func([]Document), onError func(error)) (stop func()) {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		var lastDigest string
		first := true
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			docs, err := s.RunQuery(ctx, q)
			if err != nil {
				if ctx.Err() == nil && onError != nil {
					onError(err)
				}
			} else {
				d := snapshotDigest(docs)
				if first || d != lastDigest {
					first = false
					lastDigest = d
					if ctx.Err() == nil && onChange != nil {
						onChange(docs)
					}
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return cancel
}

// snapshotDigest summarizes a result set by document names and update times;
// identical digests mean the snapshot has not changed.
func snapshotDigest(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Name+"@"+d.UpdateTime.Format(time.RFC3339Nano))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
