package audio

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultRecorderCommand captures CD-quality WAV from the default ALSA device to stdout.
var DefaultRecorderCommand = []string{"arecord", "-q", "-f", "cd", "-t", "wav", "-"}

const chunkSize = 32 * 1024

// Stream delivers recorded chunks until it is closed or the input ends.
// Chunks is closed once every captured byte has been delivered.
type Stream interface {
	Chunks() <-chan []byte
	// MimeType is the container reported by the capture backend, or "" if unknown.
	MimeType() string
	Close() error
}

// Source acquires an audio input.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// CommandSource records from the microphone through an external command
// that writes audio to stdout.
type CommandSource struct {
	Args     []string
	MimeType string
	// StartupGrace is how long Open waits for the first chunk before it
	// trusts a silent recorder. A recorder that exits with an error inside
	// this window failed to acquire the device.
	StartupGrace time.Duration
}

var _ Source = &CommandSource{}

const defaultStartupGrace = 250 * time.Millisecond

// ParseCommand splits a recorder command line on whitespace.
func ParseCommand(cmdline string) []string {
	return strings.Fields(cmdline)
}

func (s *CommandSource) Open(ctx context.Context) (Stream, error) {
	args := s.Args
	if len(args) == 0 {
		args = DefaultRecorderCommand
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, errors.Wrapf(err, "recorder %s not available", args[0])
	}
	grace := s.StartupGrace
	if grace <= 0 {
		grace = defaultStartupGrace
	}

	cmd := exec.Command(args[0], args[1:]...)
	st := &commandStream{
		cmd:    cmd,
		mime:   s.MimeType,
		chunks: make(chan []byte, 64),
		first:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	cmd.Stdout = &chunkWriter{out: st.chunks, first: st.first}
	cmd.Stderr = &st.stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start recorder %s", args[0])
	}
	log.Debug().Str("component", "audio").Strs("args", args).Int("pid", cmd.Process.Pid).Msg("recorder started")

	go func() {
		defer close(st.done)
		defer close(st.chunks)
		// interrupting the recorder is how capture normally ends
		st.waitErr = cmd.Wait()
		if st.waitErr != nil {
			log.Debug().Err(st.waitErr).Str("component", "audio").Msg("recorder exited")
		}
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-st.first:
	case <-timer.C:
	case <-st.done:
		if st.waitErr != nil {
			return nil, errors.Wrapf(st.waitErr, "recorder %s failed: %s", args[0], strings.TrimSpace(st.stderr.String()))
		}
	case <-ctx.Done():
		_ = st.Close()
		return nil, errors.Wrap(ctx.Err(), "open recorder")
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = st.Close()
		case <-st.done:
		}
	}()
	return st, nil
}

type chunkWriter struct {
	out   chan<- []byte
	first chan struct{}
	once  sync.Once
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	w.out <- buf
	w.once.Do(func() { close(w.first) })
	return len(p), nil
}

type commandStream struct {
	cmd     *exec.Cmd
	mime    string
	chunks  chan []byte
	first   chan struct{}
	done    chan struct{}
	once    sync.Once
	stderr  bytes.Buffer
	waitErr error
}

func (s *commandStream) Chunks() <-chan []byte { return s.chunks }
func (s *commandStream) MimeType() string      { return s.mime }

func (s *commandStream) Close() error {
	var err error
	s.once.Do(func() {
		if s.cmd.Process == nil {
			return
		}
		if sigErr := s.cmd.Process.Signal(os.Interrupt); sigErr != nil {
			err = s.cmd.Process.Kill()
		}
	})
	<-s.done
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "stop recorder")
	}
	return nil
}

// FileSource replays a recorded file as if it was captured live.
type FileSource struct {
	Path string
}

var _ Source = &FileSource{}

func (s *FileSource) Open(ctx context.Context) (Stream, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open audio file %s", s.Path)
	}
	ctx, cancel := context.WithCancel(ctx)
	st := &fileStream{
		chunks: make(chan []byte, 8),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(st.done)
		defer close(st.chunks)
		defer func() { _ = f.Close() }()
		for {
			buf := make([]byte, chunkSize)
			n, err := f.Read(buf)
			if n > 0 {
				select {
				case st.chunks <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					log.Warn().Err(err).Str("component", "audio").Str("path", s.Path).Msg("reading audio file")
				}
				return
			}
		}
	}()
	return st, nil
}

type fileStream struct {
	chunks chan []byte
	done   chan struct{}
	cancel context.CancelFunc
}

func (s *fileStream) Chunks() <-chan []byte { return s.chunks }
func (s *fileStream) MimeType() string      { return "" }

// Close waits for the file to be fully delivered.
func (s *fileStream) Close() error {
	<-s.done
	s.cancel()
	return nil
}
