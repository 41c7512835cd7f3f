package ai

import (
	"context"
	"io"

	"github.com/suPer8Hu/studytree-ai/internal/apperr"
)

// Stream is a finite, non-restartable sequence of text fragments backed by a
// producer goroutine. Next returns io.EOF once the producer finished cleanly.
// Stream is not safe for concurrent use.
type Stream struct {
	chunks <-chan string
	errs   <-chan error
	cancel context.CancelFunc
	err    error
}

// StartStream runs produce in its own goroutine with a cancellable child of
// ctx. produce must close neither channel; StartStream owns them.
func StartStream(ctx context.Context, produce func(ctx context.Context, chunks chan<- string) error) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)
		if err := produce(ctx, chunks); err != nil {
			errs <- err
		}
	}()

	return &Stream{chunks: chunks, errs: errs, cancel: cancel}
}

// Next blocks for the next fragment. After the sequence ends every call
// returns the same terminal error: io.EOF, or a generation error.
func (s *Stream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if c, ok := <-s.chunks; ok {
		return c, nil
	}
	s.cancel()
	// errs is closed before chunks, so this never blocks
	if err, ok := <-s.errs; ok && err != nil {
		s.err = apperr.Generation("provider stream failed", err)
	} else {
		s.err = io.EOF
	}
	return "", s.err
}

// Close stops the producer. Fragments already buffered are discarded.
func (s *Stream) Close() {
	s.cancel()
	if s.err == nil {
		s.err = io.EOF
	}
}

// emit delivers one fragment unless the consumer went away.
func emit(ctx context.Context, chunks chan<- string, s string) bool {
	select {
	case chunks <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains s into a single string. It is mostly useful in tests.
func Collect(s *Stream) (string, error) {
	var out []byte
	for {
		c, err := s.Next()
		if err == io.EOF {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, c...)
	}
}
