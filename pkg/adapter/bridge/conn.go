package bridge

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// maxPayload bounds a single envelope payload. ZCL frames are tiny; the
// cap only guards against a corrupted length prefix.
const maxPayload = 1 << 16

// Conn frames envelopes over a byte stream with a u32 little-endian length
// prefix. Sends are serialized; Recv is single-reader.
type Conn struct {
	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	wmu sync.Mutex
}

func NewConn(c net.Conn) *Conn {
	return &Conn{
		c:  c,
		br: bufio.NewReaderSize(c, 4096),
		bw: bufio.NewWriterSize(c, 4096),
	}
}

// Send writes one envelope.
func (c *Conn) Send(e *Envelope) error {
	frame, err := e.EncodeFrame()
	if err != nil {
		return err
	}
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(frame)))
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := c.bw.Write(frame); err != nil {
		return err
	}
	return c.bw.Flush()
}

// Recv reads one envelope.
func (c *Conn) Recv() (*Envelope, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(c.br, lenbuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenbuf[:])
	if n < HeaderSize || n > HeaderSize+maxPayload {
		return nil, fmt.Errorf("invalid frame size %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, err
	}
	return DecodeFrame(buf)
}

// SetReadDeadline bounds the next Recv.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.c.SetReadDeadline(t) }

func (c *Conn) Close() error { return c.c.Close() }

func (c *Conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }
