package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds the payload length accepted by ReadString.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ByteReader is the reader side of the framing codec.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// AppendString appends the framed encoding of s to dst: an unsigned LEB128
// byte count followed by the raw UTF-8 bytes. The empty string encodes as a
// single zero byte.
func AppendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// WriteString writes s to w as one frame.
func WriteString(w io.Writer, s string) error {
	buf := AppendString(make([]byte, 0, binary.MaxVarintLen64+len(s)), s)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadString reads one frame from r. It returns io.EOF only when r is
// exhausted before the first byte of the length prefix.
func ReadString(r ByteReader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", fmt.Errorf("read frame length: %w", err)
	}
	if n > MaxFrameSize {
		return "", fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if n == 0 {
		return "", nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read frame payload: %w", err)
	}
	return string(buf), nil
}

// Stream carries framed strings over a bidirectional byte stream.
// Writes are buffered until Flush.
type Stream struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewStream wraps rw for framed I/O.
func NewStream(rw io.ReadWriter) *Stream {
	return &Stream{
		r: bufio.NewReader(rw),
		w: bufio.NewWriter(rw),
	}
}

// Send writes each frame in order and flushes.
func (s *Stream) Send(frames ...string) error {
	for _, f := range frames {
		if err := WriteString(s.w, f); err != nil {
			return err
		}
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush frames: %w", err)
	}
	return nil
}

// Next reads a single frame.
func (s *Stream) Next() (string, error) {
	return ReadString(s.r)
}

// Buffered returns the number of bytes read from the connection but not
// yet consumed as frames.
func (s *Stream) Buffered() int {
	return s.r.Buffered()
}

// Collect reads frames until the empty-string sentinel and returns them
// without the sentinel. Running out of input first is an error.
func (s *Stream) Collect() ([]string, error) {
	var lines []string
	for {
		line, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return lines, err
		}
		if line == "" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}
