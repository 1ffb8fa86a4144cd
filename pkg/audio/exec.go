package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

const (
	// defaultCaptureRate is the native rate requested from the capture
	// device. Most consumer microphones deliver 44.1 or 48 kHz; the
	// downsampler handles either.
	defaultCaptureRate = 48000

	// defaultFrameSamples is the number of samples per emitted Frame
	// (~21 ms at 48 kHz). Small enough to keep transcript latency low,
	// large enough to amortise the per-chunk wire overhead.
	defaultFrameSamples = 1024
)

// ArecordSource captures microphone audio by running the ALSA `arecord`
// utility and reading raw float32 samples from its stdout. It implements
// [Source].
type ArecordSource struct {
	// Device is the ALSA device name (e.g. "default", "hw:1,0").
	// Empty means the system default.
	Device string

	// Rate is the native capture rate to request. Zero means 48000.
	Rate int

	// FrameSamples is the per-frame sample count. Zero means 1024.
	FrameSamples int
}

// Acquire starts an arecord subprocess and returns a stream of its frames.
// The context only governs the acquisition attempt; once the process is
// running the stream lives until Close.
func (s *ArecordSource) Acquire(_ context.Context) (Stream, error) {
	rate := s.Rate
	if rate <= 0 {
		rate = defaultCaptureRate
	}
	frameSamples := s.FrameSamples
	if frameSamples <= 0 {
		frameSamples = defaultFrameSamples
	}

	args := []string{
		"-q",
		"-t", "raw",
		"-f", "FLOAT_LE",
		"-c", "1",
		"-r", strconv.Itoa(rate),
	}
	if s.Device != "" {
		args = append(args, "-D", s.Device)
	}

	cmd := exec.Command("arecord", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: arecord stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyExecErr(err)
	}

	st := &execStream{
		rate:   rate,
		frames: make(chan Frame, 16),
		cmd:    cmd,
		out:    stdout,
	}
	go st.readLoop(frameSamples)
	return st, nil
}

// classifyExecErr maps subprocess launch failures onto the capture error
// taxonomy.
func classifyExecErr(err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: arecord not installed", ErrDeviceUnavailable)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

// execStream adapts a running capture subprocess to the [Stream] interface.
type execStream struct {
	rate   int
	frames chan Frame
	cmd    *exec.Cmd
	out    io.ReadCloser

	closeOnce sync.Once
}

func (st *execStream) Frames() <-chan Frame { return st.frames }
func (st *execStream) SampleRate() int      { return st.rate }

// Close terminates the subprocess and closes the frames channel (via the read
// loop observing EOF). Idempotent.
func (st *execStream) Close() error {
	st.closeOnce.Do(func() {
		_ = st.out.Close()
		if st.cmd.Process != nil {
			_ = st.cmd.Process.Kill()
		}
		_ = st.cmd.Wait()
	})
	return nil
}

// readLoop slices the raw float32 byte stream into frames until EOF.
func (st *execStream) readLoop(frameSamples int) {
	defer close(st.frames)

	buf := make([]byte, frameSamples*4)
	for {
		if _, err := io.ReadFull(st.out, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				slog.Warn("audio: capture read ended", "err", err)
			}
			return
		}
		samples := make([]float32, frameSamples)
		for i := range samples {
			bits := binary.LittleEndian.Uint32(buf[i*4:])
			samples[i] = math.Float32frombits(bits)
		}
		st.frames <- Frame{Samples: samples, SampleRate: st.rate}
	}
}

// AplayPlayer plays 16-bit mono PCM through the ALSA `aplay` utility. It
// blocks until playback completes, matching the playback queue's
// one-at-a-time contract.
type AplayPlayer struct {
	// Rate is the PCM sample rate to announce. Zero means [TargetRate].
	Rate int
}

// Play writes pcm to an aplay subprocess and waits for it to finish.
// Cancelling ctx kills playback early.
func (p *AplayPlayer) Play(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	rate := p.Rate
	if rate <= 0 {
		rate = TargetRate
	}
	cmd := exec.CommandContext(ctx, "aplay",
		"-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-c", "1",
		"-r", strconv.Itoa(rate),
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("audio: aplay stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audio: aplay start: %w", err)
	}
	if _, err := stdin.Write(pcm); err != nil {
		_ = stdin.Close()
		_ = cmd.Wait()
		return fmt.Errorf("audio: aplay write: %w", err)
	}
	_ = stdin.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("audio: aplay: %w", err)
	}
	return nil
}
