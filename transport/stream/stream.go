// Package stream carries requests over a pair of byte streams, such as the
// stdin and stdout of a child process.
//
// Each message is a JSON-encoded transport.Frame preceded by its length in
// bytes and a space, and followed by a newline:
//
//	52 {"id":"...","request":{"query":{"Movie":true}}}
//
// Frames carry correlation IDs, so any number of requests may be in flight
// on one stream.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/CrimsonAS/qcomponent/logging"
	"github.com/CrimsonAS/qcomponent/transport"
)

// MaxFrameSize bounds the size of a single frame.
const MaxFrameSize = 64 << 20

var (
	ErrInvalidSize = errors.New("stream: invalid frame size")
	ErrNoNewline   = errors.New("stream: frame not terminated by a newline")
)

// Conn reads and writes frames. Writes may be issued from any goroutine;
// reads must come from one.
type Conn struct {
	in     io.ReadCloser
	out    io.WriteCloser
	rd     *bufio.Reader
	logger zerolog.Logger

	wmu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
}

// NewConn creates a connection from an open stream.
func NewConn(data io.ReadWriteCloser) *Conn {
	return NewConnSplit(data, data)
}

// NewConnSplit is equivalent to NewConn, except that it uses separate
// streams for reading and writing. This is useful for pipes, or for stdin
// and stdout.
func NewConnSplit(in io.ReadCloser, out io.WriteCloser) *Conn {
	return &Conn{
		in:     in,
		out:    out,
		rd:     bufio.NewReader(in),
		logger: logging.For("stream"),
	}
}

// SetLogger replaces the connection's logger.
func (c *Conn) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// fatal records the first failure and closes both streams.
func (c *Conn) fatal(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
		if !errors.Is(err, io.EOF) && !errors.Is(err, transport.ErrClosed) {
			c.logger.Error().Err(err).Msg("connection failed")
		}
		c.closeLocked()
	}
	return c.err
}

func (c *Conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.in.Close()
	c.out.Close()
}

// Err returns the error that ended the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.fatal(transport.ErrClosed)
	return nil
}

// WriteFrame encodes f and writes it as one message.
func (c *Conn) WriteFrame(f *transport.Frame) error {
	if err := c.Err(); err != nil {
		return err
	}
	buf, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("stream: frame encoding failed: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := fmt.Fprintf(c.out, "%d %s\n", len(buf), buf); err != nil {
		return c.fatal(fmt.Errorf("stream: write error: %w", err))
	}
	return nil
}

// ReadFrame blocks for the next message. Any read or framing error is
// fatal for the connection.
func (c *Conn) ReadFrame() (*transport.Frame, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}
	sizeStr, err := c.rd.ReadString(' ')
	if err == io.EOF && sizeStr == "" {
		// clean end of input; the output side stays usable
		return nil, io.EOF
	} else if err != nil {
		return nil, c.fatal(err)
	} else if len(sizeStr) < 2 {
		return nil, c.fatal(ErrInvalidSize)
	}

	byteCnt, err := strconv.ParseInt(sizeStr[:len(sizeStr)-1], 10, 32)
	if err != nil || byteCnt < 1 || byteCnt > MaxFrameSize {
		return nil, c.fatal(ErrInvalidSize)
	}

	blob := make([]byte, byteCnt)
	if _, err := io.ReadFull(c.rd, blob); err != nil {
		return nil, c.fatal(fmt.Errorf("stream: read error: %w", err))
	}

	if nl, err := c.rd.ReadByte(); err != nil {
		return nil, c.fatal(fmt.Errorf("stream: read error: %w", err))
	} else if nl != '\n' {
		return nil, c.fatal(ErrNoNewline)
	}

	f := &transport.Frame{}
	if err := json.Unmarshal(blob, f); err != nil {
		return nil, c.fatal(fmt.Errorf("stream: invalid frame: %w", err))
	}
	return f, nil
}
