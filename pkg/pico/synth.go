package pico

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// maxStalls bounds consecutive PutText calls that accept nothing. The engine
// accepts no input while its buffers are full, so a long stall means the
// caller must drain first.
const maxStalls = 16

// DefaultStepSamples is the GetData buffer size used by Synthesize.
const DefaultStepSamples = 1024

// PutAll submits all of text, honoring partial acceptance. It does not add
// the terminating NUL.
func (e *Engine) PutAll(ctx context.Context, text []byte) error {
	stalls := 0
	for len(text) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.PutText(text)
		if err != nil {
			return err
		}
		if n == 0 {
			stalls++
			if stalls >= maxStalls {
				return &Error{
					Code:    StatusBufOverflow,
					Message: fmt.Sprintf("engine accepted no input after %d attempts, %d bytes pending", stalls, len(text)),
				}
			}
			continue
		}
		stalls = 0
		text = text[n:]
	}
	return nil
}

// Drain calls GetData with buf until the engine is Idle, passing every
// non-empty chunk to emit. The chunk aliases buf and is only valid during
// the call. Stopping early (ctx done or emit failing) leaves the remaining
// audio in the engine; Reset drops it.
func (e *Engine) Drain(ctx context.Context, buf []int16, emit func([]int16) error) error {
	if len(buf) == 0 {
		return errors.New("pico: drain buffer is empty")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, status, err := e.GetData(buf)
		if err != nil {
			return err
		}
		if n > 0 {
			if err := emit(buf[:n]); err != nil {
				return err
			}
		}
		if status == Idle {
			return nil
		}
	}
}

// Synthesize runs the full protocol for text: put it all, put the NUL that
// starts synthesis (unless text already ends with one), and drain until
// Idle. When the engine stops accepting input, one step is run to make room
// before retrying.
//
// On any error the engine is reset before the error is returned, so the
// next utterance starts clean: a full reset if the engine reported the
// error, a soft reset if ctx was done or emit failed.
func (e *Engine) Synthesize(ctx context.Context, text string, emit func([]int16) error) error {
	data := []byte(text)
	if !bytes.HasSuffix(data, []byte{0}) {
		data = append(data, 0)
	}
	buf := make([]int16, DefaultStepSamples)

	err := e.feed(ctx, data, buf, emit)
	if err == nil {
		err = e.Drain(ctx, buf, emit)
	}
	if err == nil {
		return nil
	}
	mode := ResetSoft
	var perr *Error
	if errors.As(err, &perr) {
		mode = ResetFull
	}
	if rerr := e.Reset(mode); rerr != nil {
		return fmt.Errorf("%w (reset: %v)", err, rerr)
	}
	return err
}

// feed puts data, interleaving synthesis steps whenever the input is full.
func (e *Engine) feed(ctx context.Context, data []byte, buf []int16, emit func([]int16) error) error {
	stalls := 0
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.PutText(data)
		if err != nil {
			return err
		}
		if n > 0 {
			data = data[n:]
			stalls = 0
			continue
		}

		m, _, err := e.GetData(buf)
		if err != nil {
			return err
		}
		if m > 0 {
			if err := emit(buf[:m]); err != nil {
				return err
			}
			stalls = 0
			continue
		}
		stalls++
		if stalls >= maxStalls {
			return &Error{
				Code:    StatusBufOverflow,
				Message: fmt.Sprintf("engine made no progress after %d attempts, %d bytes pending", stalls, len(data)),
			}
		}
	}
	return nil
}

// Speak synthesizes text and returns all samples.
func (e *Engine) Speak(ctx context.Context, text string) ([]int16, error) {
	var out []int16
	err := e.Synthesize(ctx, text, func(chunk []int16) error {
		out = append(out, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
