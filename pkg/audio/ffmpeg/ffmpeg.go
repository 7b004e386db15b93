// Package ffmpeg implements [audio.Device] and [audio.Player] on top of the
// ffmpeg and ffplay command-line tools.
//
// Capture runs `ffmpeg -f <input format> -i <input device> ... -f s16le -` and
// slices its stdout into fixed-duration frames. Playback pipes the clip into
// `ffplay -nodisp -autoexit`. No cgo is required; the binaries must be on PATH
// or configured explicitly.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/consultvox/pkg/audio"
)

// Device captures microphone audio through an ffmpeg subprocess.
type Device struct {
	command     string
	inputFormat string
	inputDevice string
	frame       time.Duration
	stopGrace   time.Duration
}

var _ audio.Device = (*Device)(nil)

// Option configures a [Device].
type Option func(*Device)

// WithCommand overrides the ffmpeg executable. Default: "ffmpeg".
func WithCommand(cmd string) Option {
	return func(d *Device) {
		if cmd != "" {
			d.command = cmd
		}
	}
}

// WithInput selects the ffmpeg input format and device, e.g. ("pulse",
// "default"), ("alsa", "hw:0"), ("avfoundation", ":0").
func WithInput(format, device string) Option {
	return func(d *Device) {
		if format != "" {
			d.inputFormat = format
		}
		if device != "" {
			d.inputDevice = device
		}
	}
}

// WithFrameDuration sets the duration of each published frame. Default: 20 ms.
func WithFrameDuration(dur time.Duration) Option {
	return func(d *Device) {
		if dur > 0 {
			d.frame = dur
		}
	}
}

// New creates an ffmpeg capture device.
func New(opts ...Option) *Device {
	d := &Device{
		command:     "ffmpeg",
		inputFormat: "pulse",
		inputDevice: "default",
		frame:       20 * time.Millisecond,
		stopGrace:   1200 * time.Millisecond,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// filters maps the enabled processing constraints to ffmpeg audio filters.
// ffmpeg has no echo canceller, so EchoCancellation is ignored.
func filters(c audio.Constraints) []string {
	var fs []string
	if c.NoiseSuppression {
		fs = append(fs, "afftdn")
	}
	if c.AutoGainControl {
		fs = append(fs, "dynaudnorm")
	}
	return fs
}

func (d *Device) args(c audio.Constraints, f audio.Format) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", d.inputFormat,
		"-i", d.inputDevice,
	}
	if fs := filters(c); len(fs) > 0 {
		args = append(args, "-af", strings.Join(fs, ","))
	}
	return append(args,
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "s16le",
		"-",
	)
}

// Open implements [audio.Device]. It returns once the first frame has been
// captured, the subprocess exits, or ctx is done.
func (d *Device) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	format := c.Format()
	if c.EchoCancellation {
		slog.Debug("ffmpeg: echo cancellation requested but not available")
	}

	cmd := exec.Command(d.command, d.args(c, format)...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start %q: %w: %w", d.command, audio.ErrNoDevice, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	p := &process{cmd: cmd, waitErr: waitErr, grace: d.stopGrace}
	stream := audio.NewLiveStream(format, p.stop)

	frameBytes := format.SampleRate * format.Channels * 2 * int(d.frame) / int(time.Second)
	frameBytes &^= 1
	ready := make(chan struct{})
	go readFrames(stdout, stream, format, frameBytes, ready)

	select {
	case <-ready:
		slog.Debug("ffmpeg: capture started", "input", d.inputDevice, "rate", format.SampleRate, "stream", stream.ID())
		return stream, nil
	case err := <-p.exited():
		stream.Stop()
		return nil, classify(err, stderr.String())
	case <-ctx.Done():
		stream.Stop()
		return nil, fmt.Errorf("ffmpeg: open: %w", ctx.Err())
	}
}

func readFrames(r io.Reader, stream *audio.LiveStream, f audio.Format, frameBytes int, ready chan<- struct{}) {
	var (
		ts        time.Duration
		readyOnce sync.Once
	)
	for {
		buf := make([]byte, frameBytes)
		if _, err := io.ReadFull(r, buf); err != nil {
			if stream.Active() {
				stream.Fail(fmt.Errorf("ffmpeg: capture ended: %w", err))
			}
			return
		}
		readyOnce.Do(func() { close(ready) })
		frame := audio.AudioFrame{Data: buf, SampleRate: f.SampleRate, Channels: f.Channels, Timestamp: ts}
		ts += frame.Duration()
		stream.Publish(frame)
	}
}

// classify maps an early subprocess exit to the audio error taxonomy.
func classify(waitErr error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	cause := audio.ErrNoDevice
	if strings.Contains(lower, "permission denied") || strings.Contains(lower, "not permitted") {
		cause = audio.ErrPermissionDenied
	}
	if waitErr == nil {
		return fmt.Errorf("ffmpeg: exited before capture started: %w: %s", cause, msg)
	}
	return fmt.Errorf("ffmpeg: exited before capture started: %w: %w: %s", cause, waitErr, msg)
}

type process struct {
	cmd     *exec.Cmd
	waitErr <-chan error
	grace   time.Duration

	mu     sync.Mutex
	result *error
}

// exited returns a channel that yields the subprocess exit status once.
func (p *process) exited() <-chan error {
	out := make(chan error, 1)
	go func() {
		err, ok := <-p.waitErr
		if ok {
			p.mu.Lock()
			p.result = &err
			p.mu.Unlock()
		}
		out <- err
	}()
	return out
}

// stop asks ffmpeg to finish and kills it after the grace period.
func (p *process) stop() {
	p.mu.Lock()
	done := p.result != nil
	p.mu.Unlock()
	if done || p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.waitErr:
	case <-time.After(p.grace):
		_ = p.cmd.Process.Kill()
		<-p.waitErr
	}
}

// Player plays clips through an ffplay subprocess.
type Player struct {
	command string
}

var _ audio.Player = (*Player)(nil)

// NewPlayer creates a player invoking command. Default: "ffplay".
func NewPlayer(command string) *Player {
	if command == "" {
		command = "ffplay"
	}
	return &Player{command: command}
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, clip audio.Clip, onEnded func(error)) error {
	cmd := exec.CommandContext(ctx, p.command, "-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0")
	cmd.Stdin = bytes.NewReader(clip.Data)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start player %q: %w: %w", p.command, audio.ErrPlaybackBlocked, err)
	}
	go func() {
		err := cmd.Wait()
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case err != nil:
			err = fmt.Errorf("ffmpeg: player: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		onEnded(err)
	}()
	return nil
}
