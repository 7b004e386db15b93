package audio

import (
	"context"
	"errors"
)

// ErrPlaybackBlocked is returned (wrapped) by [Player.Play] when the platform
// refuses to start output, for example because no output device is available.
var ErrPlaybackBlocked = errors.New("audio: playback blocked")

// Player plays encoded clips on the output device.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play starts playing clip and returns once playback has started. A non-nil
	// error means playback never started and onEnded will not be called.
	//
	// onEnded is called when playback finishes, with a nil error on natural
	// completion or the cause otherwise (ctx cancellation included). Backends
	// may call it from any goroutine and, on some platforms, more than once;
	// callers that need a single notification must deduplicate.
	Play(ctx context.Context, clip Clip, onEnded func(err error)) error
}
