package envelope

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ErrClosed is returned when sending on or receiving from a closed channel.
var ErrClosed = errors.New("channel closed")

// ErrTooLarge marks an envelope line that exceeded the size limit and was
// skipped.
var ErrTooLarge = errors.New("envelope too large")

// maxLineSize bounds a single encoded envelope.
const maxLineSize = 16 << 20

// Conn is one end of a duplex envelope channel. Envelopes are encoded as one
// JSON object per line. Send is safe for concurrent use; Recv must be called
// from a single goroutine.
type Conn struct {
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewConn wraps a reader/writer pair. closer, if non-nil, is closed by Close.
func NewConn(r io.Reader, w io.Writer, closer io.Closer) *Conn {
	return &Conn{
		r:      bufio.NewReaderSize(r, 64<<10),
		w:      w,
		closer: closer,
	}
}

// NewStreamConn wraps a single duplex stream such as a net.Conn.
func NewStreamConn(rwc io.ReadWriteCloser) *Conn {
	return NewConn(rwc, rwc, rwc)
}

// Send writes one envelope. Writes never wait for the receiver to process it.
func (c *Conn) Send(env Envelope) error {
	env.Normalize()
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope %s: %w", env.MessageID, err)
	}
	line = append(line, '\n')

	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(line); err != nil {
		if isClosedErr(err) {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return fmt.Errorf("writing envelope %s: %w", env.MessageID, err)
	}
	return nil
}

// Recv blocks until the next envelope arrives. It returns io.EOF once the
// peer closes its end.
func (c *Conn) Recv() (Envelope, error) {
	for {
		line, err := c.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) || isClosedErr(err) {
				return Envelope{}, io.EOF
			}
			return Envelope{}, err
		}
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, &DecodeError{Line: string(line), Err: err}
		}
		env.Normalize()
		return env, nil
	}
}

// readLine returns the next line. A line longer than maxLineSize is read
// to its end and discarded, and a *DecodeError wrapping ErrTooLarge is
// returned so the stream stays aligned on envelope boundaries.
func (c *Conn) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := c.r.ReadLine()
		if err != nil {
			return nil, err
		}
		if len(buf)+len(chunk) > maxLineSize {
			return nil, c.skipLine(buf, chunk, isPrefix)
		}
		buf = append(buf, chunk...)
		if !isPrefix {
			return buf, nil
		}
	}
}

func (c *Conn) skipLine(head, chunk []byte, isPrefix bool) error {
	size := len(head) + len(chunk)
	excerpt := append([]byte(nil), head[:min(len(head), 120)]...)
	if len(excerpt) < 120 {
		excerpt = append(excerpt, chunk[:min(len(chunk), 120-len(excerpt))]...)
	}
	for isPrefix {
		var err error
		chunk, isPrefix, err = c.r.ReadLine()
		if err != nil {
			return err
		}
		size += len(chunk)
	}
	return &DecodeError{
		Line: string(excerpt),
		Err:  fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, size, maxLineSize),
	}
}

// Close closes the underlying stream, unblocking any pending Send or Recv.
// Safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// DecodeError reports a line that could not be decoded as an envelope. The
// stream remains usable.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("decoding envelope %q: %v", line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func isClosedErr(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, ErrClosed)
}

// MultiCloser closes every closer in order and returns the first error.
type MultiCloser []io.Closer

func (m MultiCloser) Close() error {
	var first error
	for _, c := range m {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil && !isClosedErr(err) {
			first = err
		}
	}
	return first
}

// Pipe returns two connected Conns backed by OS pipes, so sends are buffered
// by the kernel and do not wait for the peer to read.
func Pipe() (*Conn, *Conn, error) {
	aR, bW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating pipe: %w", err)
	}
	bR, aW, err := os.Pipe()
	if err != nil {
		_ = aR.Close()
		_ = bW.Close()
		return nil, nil, fmt.Errorf("creating pipe: %w", err)
	}
	a := NewConn(aR, aW, MultiCloser{aW, aR})
	b := NewConn(bR, bW, MultiCloser{bW, bR})
	return a, b, nil
}
