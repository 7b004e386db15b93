package speaker

import (
	"context"
	"sync"
)

// playback tracks one clip on the speaker. onEnded fires exactly once,
// either when the clip runs out or when its context is cancelled.
type playback struct {
	once    sync.Once
	done    chan struct{}
	release func()
	onEnded func(error)
}

func newPlayback(release func(), onEnded func(error)) *playback {
	return &playback{done: make(chan struct{}), release: release, onEnded: onEnded}
}

func (pb *playback) finish(err error) {
	pb.once.Do(func() {
		close(pb.done)
		pb.release()
		pb.onEnded(err)
	})
}

// watch blocks until the clip finished or ctx is cancelled, in which case
// stop silences it first.
func (pb *playback) watch(ctx context.Context, stop func()) {
	select {
	case <-pb.done:
	case <-ctx.Done():
		stop()
		pb.finish(ctx.Err())
	}
}
