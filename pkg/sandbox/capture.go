package sandbox

import (
	"bytes"
	"errors"
	"io"
	"os"
)

// cappedBuffer keeps the first limit bytes written to it and counts the
// rest. Writes never fail, so the child is never blocked on a full pipe.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int64
	total int64
}

func newCappedBuffer(limit int64) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.total += int64(len(p))
	if c.limit <= 0 {
		c.buf.Write(p)
		return len(p), nil
	}
	if room := c.limit - int64(c.buf.Len()); room > 0 {
		keep := p
		if int64(len(keep)) > room {
			keep = keep[:room]
		}
		c.buf.Write(keep)
	}
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	if c.buf.Len() == 0 {
		return []byte{}
	}
	return bytes.Clone(c.buf.Bytes())
}

func (c *cappedBuffer) Total() int64 {
	return c.total
}

func (c *cappedBuffer) Truncated() bool {
	return c.total > int64(c.buf.Len())
}

// drain copies r into dst until EOF. A read end closed by the executor
// after the drain timeout is not reported; the executor records that case
// itself.
func drain(r *os.File, dst io.Writer) error {
	_, err := io.Copy(dst, r)
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// feed writes payload to w and closes it. A child that exits without
// reading all of its input is not an error.
func feed(w *os.File, payload []byte) error {
	_, err := w.Write(payload)
	closeErr := w.Close()
	if err != nil && !isBrokenPipe(err) && !errors.Is(err, os.ErrClosed) {
		return err
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return closeErr
	}
	return nil
}
