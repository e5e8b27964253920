package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultMimeType is reported when neither the source nor sniffing can tell.
const DefaultMimeType = "audio/webm"

var (
	ErrNotRecording   = errors.New("not recording")
	ErrEmptyRecording = errors.New("recording is empty")
)

// Clip is a finished recording, ready for the webhook.
type Clip struct {
	Base64   string
	MimeType string
	Duration time.Duration
	Size     int
}

// Recorder buffers chunks from a Source between Start and Stop.
type Recorder struct {
	source Source
	now    func() time.Time

	mu      sync.Mutex
	stream  Stream
	started time.Time
	buf     *bytes.Buffer
	drained chan struct{}
}

type RecorderOption func(*Recorder)

func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecorder(source Source, opts ...RecorderOption) *Recorder {
	r := &Recorder{source: source, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recording is true between Start and Stop while the input is still live.
// It turns false on its own when the source ends, e.g. the recorder dies.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil && !closed(r.drained)
}

// Ended is closed once the current capture has no more input, whether
// because of Stop or because the source ended. It is nil when idle.
func (r *Recorder) Ended() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drained
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Start acquires the source and begins buffering. Calling Start while a
// recording is in progress does nothing; a capture whose source already
// ended is discarded and a new one is started.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		if !closed(r.drained) {
			return nil
		}
		if err := r.stream.Close(); err != nil {
			log.Debug().Err(err).Str("component", "audio").Msg("discarding ended capture")
		}
		r.stream, r.buf, r.drained = nil, nil, nil
	}
	if r.source == nil {
		return errors.New("no audio source configured")
	}
	stream, err := r.source.Open(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire audio input")
	}

	buf := &bytes.Buffer{}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for chunk := range stream.Chunks() {
			buf.Write(chunk)
		}
	}()

	r.stream = stream
	r.buf = buf
	r.drained = drained
	r.started = r.now()
	log.Debug().Str("component", "audio").Msg("recording started")
	return nil
}

// Stop ends the capture and encodes everything recorded so far. A capture
// whose source ended on its own can still be stopped to collect its data.
func (r *Recorder) Stop() (Clip, error) {
	r.mu.Lock()
	stream, buf, drained, started := r.stream, r.buf, r.drained, r.started
	r.stream, r.buf, r.drained = nil, nil, nil
	r.mu.Unlock()

	if stream == nil {
		return Clip{}, ErrNotRecording
	}
	duration := r.now().Sub(started)
	closeErr := stream.Close()
	<-drained
	if closeErr != nil {
		log.Warn().Err(closeErr).Str("component", "audio").Msg("closing audio stream")
	}

	data := buf.Bytes()
	if len(data) == 0 {
		return Clip{}, ErrEmptyRecording
	}
	clip := Clip{
		Base64:   base64.StdEncoding.EncodeToString(data),
		MimeType: DetectMimeType(data, stream.MimeType()),
		Duration: duration,
		Size:     len(data),
	}
	log.Debug().
		Str("component", "audio").
		Str("mime", clip.MimeType).
		Int("bytes", clip.Size).
		Dur("duration", clip.Duration).
		Msg("recording finished")
	return clip, nil
}

// DetectMimeType prefers the reported type, then sniffs the header.
func DetectMimeType(data []byte, reported string) string {
	if reported != "" {
		return reported
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return DefaultMimeType
	}
	switch kind.MIME.Value {
	case "video/webm":
		// webm audio-only captures share the video signature
		return "audio/webm"
	default:
		return kind.MIME.Value
	}
}
