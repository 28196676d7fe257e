// Package wire frames the messages a camera group worker sends back to the
// scheduler: a 4 byte big-endian length followed by a msgpack body.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/psantana5/sdd-inspector/pkg/models"
)

// MaxFrameSize bounds a single message
const MaxFrameSize = 1 << 20

// ErrFrameTooLarge is returned when a length prefix exceeds the reader limit
var ErrFrameTooLarge = errors.New("wire: frame too large")

// Kind discriminates messages on the result stream
type Kind uint8

const (
	KindRecord Kind = iota + 1
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is one frame. A worker sends zero or more records and exactly one done.
type Message struct {
	Kind      Kind                 `msgpack:"k"`
	Group     string               `msgpack:"g,omitempty"`
	Record    *models.MetricRecord `msgpack:"rec,omitempty"`
	Processed int                  `msgpack:"n,omitempty"`
}

// Record wraps a metric record
func Record(group string, rec models.MetricRecord) Message {
	return Message{Kind: KindRecord, Group: group, Record: &rec}
}

// Done is the end-of-stream sentinel
func Done(group string, processed int) Message {
	return Message{Kind: KindDone, Group: group, Processed: processed}
}

// Writer serialises messages; safe for concurrent use
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewWriter wraps w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 4)}
}

// Write encodes and writes one frame
func (w *Writer) Write(msg Message) error {
	body, err := msgpack.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Kind, err)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	binary.BigEndian.PutUint32(w.buf, uint32(len(body)))
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}
	return nil
}

// Reader decodes frames from a stream
type Reader struct {
	r       io.Reader
	maxSize int
	header  [4]byte
}

// NewReader wraps r with the default size limit
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, maxSize: MaxFrameSize}
}

// Read returns the next message. io.EOF means the stream ended cleanly between
// frames; a stream cut inside a frame yields io.ErrUnexpectedEOF.
func (r *Reader) Read() (Message, error) {
	var msg Message
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		return msg, err
	}

	n := binary.BigEndian.Uint32(r.header[:])
	if int64(n) > int64(r.maxSize) {
		return msg, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return msg, err
	}

	if err := msgpack.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.Kind == KindRecord && msg.Record == nil {
		return msg, fmt.Errorf("record message without payload")
	}
	return msg, nil
}
