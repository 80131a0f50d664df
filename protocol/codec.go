package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// HeaderSize is the size of the big-endian length prefix of every frame.
const HeaderSize = 4

// The error returned when a frame cannot be decoded: unknown tag, truncated
// or trailing payload, bad varint, invalid UTF-8 or an oversized length.
var ErrMalformedFrame = errors.New("malformed frame")

// The error returned when the stream ends or fails before a whole frame was
// read.
var ErrConnectionClosed = errors.New("connection closed")

// The error returned when a message cannot be encoded.
var ErrEncode = errors.New("encode failed")

// Varint markers for values that do not fit in a single byte.
const (
	varintSingleMax = 250
	varintU16       = 251
	varintU32       = 252
	varintU64       = 253
)

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// Encode returns m as a complete frame, length prefix included.
func Encode(m Message) ([]byte, error) {
	e := &encoder{buf: make([]byte, HeaderSize, 64)}
	m.encode(e)
	if e.err != nil {
		return nil, e.err
	}
	size := len(e.buf) - HeaderSize
	if uint64(size) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds frame limit", ErrEncode, size)
	}
	binary.BigEndian.PutUint32(e.buf, uint32(size))
	return e.buf, nil
}

// Write encodes m and writes the frame to w.
func Write(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, frame)
}

// WriteFrame writes an already encoded frame to w.
func WriteFrame(w io.Writer, frame []byte) error {
	_, err := w.Write(frame)
	return err
}

// DecodeClientMessage decodes a frame payload (without length prefix).
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	d := &decoder{buf: payload}
	m, err := decodeClientMessage(d)
	if err != nil {
		return nil, err
	}
	return m, d.finish()
}

// DecodeServerMessage decodes a frame payload (without length prefix).
func DecodeServerMessage(payload []byte) (ServerMessage, error) {
	d := &decoder{buf: payload}
	m, err := decodeServerMessage(d)
	if err != nil {
		return nil, err
	}
	return m, d.finish()
}

// ReadClientMessage reads exactly one frame from r and decodes it.
func ReadClientMessage(r io.Reader) (ClientMessage, error) {
	return NewReader(r, 0).ReadClientMessage()
}

// ReadServerMessage reads exactly one frame from r and decodes it.
func ReadServerMessage(r io.Reader) (ServerMessage, error) {
	return NewReader(r, 0).ReadServerMessage()
}

// Reader reads frames off a stream without buffering beyond the current
// frame, so the underlying stream is left positioned at the next frame.
type Reader struct {
	r            io.Reader
	maxFrameSize uint32
	header       [HeaderSize]byte
}

// NewReader returns a Reader that rejects frames whose declared payload is
// larger than maxFrameSize bytes. A maxFrameSize of zero or less means no
// limit beyond the 32-bit prefix.
func NewReader(r io.Reader, maxFrameSize int) *Reader {
	limit := uint32(math.MaxUint32)
	if maxFrameSize > 0 && uint64(maxFrameSize) < math.MaxUint32 {
		limit = uint32(maxFrameSize)
	}
	return &Reader{r: r, maxFrameSize: limit}
}

// ReadFrame returns the payload of the next frame.
func (r *Reader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		return nil, closed(err)
	}
	size := binary.BigEndian.Uint32(r.header[:])
	if size > r.maxFrameSize {
		return nil, malformed("frame of %d bytes exceeds limit of %d", size, r.maxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, closed(err)
	}
	return payload, nil
}

// ReadClientMessage reads and decodes the next client frame.
func (r *Reader) ReadClientMessage() (ClientMessage, error) {
	payload, err := r.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeClientMessage(payload)
}

// ReadServerMessage reads and decodes the next server frame.
func (r *Reader) ReadServerMessage() (ServerMessage, error) {
	payload, err := r.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeServerMessage(payload)
}

func closed(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrConnectionClosed
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
}

type encoder struct {
	buf []byte
	err error
}

func (e *encoder) uint(v uint64) {
	switch {
	case v <= varintSingleMax:
		e.buf = append(e.buf, byte(v))
	case v <= math.MaxUint16:
		e.buf = append(e.buf, varintU16)
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(v))
	case v <= math.MaxUint32:
		e.buf = append(e.buf, varintU32)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v))
	default:
		e.buf = append(e.buf, varintU64)
		e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	}
}

func (e *encoder) string(s string) {
	if !utf8.ValidString(s) {
		if e.err == nil {
			e.err = fmt.Errorf("%w: string is not valid UTF-8", ErrEncode)
		}
		return
	}
	e.uint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) id(id ID) {
	e.buf = append(e.buf, id[:]...)
}

func (e *encoder) chatMessage(m ChatMessage) {
	e.id(m.From)
	e.string(m.Text)
	e.uint(m.Timestamp)
}

// Smallest encodings, used to bound sequence lengths before allocating.
const (
	minChatMessageSize = IDSize + 1 + 1
	minMemberSize      = IDSize + 1
)

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, malformed("truncated payload: need %d bytes at offset %d, have %d", n, d.off, d.remaining())
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) finish() error {
	if d.remaining() != 0 {
		return malformed("%d trailing bytes", d.remaining())
	}
	return nil
}

func (d *decoder) uint() (uint64, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	switch marker := b[0]; {
	case marker <= varintSingleMax:
		return uint64(marker), nil
	case marker == varintU16:
		b, err := d.take(2)
		if err != nil {
			return 0, err
		}
		v := uint64(binary.LittleEndian.Uint16(b))
		if v <= varintSingleMax {
			return 0, malformed("non-canonical varint %d", v)
		}
		return v, nil
	case marker == varintU32:
		b, err := d.take(4)
		if err != nil {
			return 0, err
		}
		v := uint64(binary.LittleEndian.Uint32(b))
		if v <= math.MaxUint16 {
			return 0, malformed("non-canonical varint %d", v)
		}
		return v, nil
	case marker == varintU64:
		b, err := d.take(8)
		if err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint64(b)
		if v <= math.MaxUint32 {
			return 0, malformed("non-canonical varint %d", v)
		}
		return v, nil
	default:
		return 0, malformed("invalid varint marker %d", marker)
	}
}

func (d *decoder) tag() (uint32, error) {
	v, err := d.uint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, malformed("tag %d overflows u32", v)
	}
	return uint32(v), nil
}

// length reads a sequence or string length and checks that at least
// n*minSize bytes follow.
func (d *decoder) length(minSize int) (int, error) {
	v, err := d.uint()
	if err != nil {
		return 0, err
	}
	if v > uint64(d.remaining()/minSize) {
		return 0, malformed("length %d exceeds remaining %d bytes", v, d.remaining())
	}
	return int(v), nil
}

func (d *decoder) string() (string, error) {
	n, err := d.length(1)
	if err != nil {
		return "", err
	}
	b, err := d.take(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", malformed("string is not valid UTF-8")
	}
	return string(b), nil
}

func (d *decoder) id() (ID, error) {
	var id ID
	b, err := d.take(IDSize)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

func (d *decoder) chatMessage() (ChatMessage, error) {
	var m ChatMessage
	var err error
	if m.From, err = d.id(); err != nil {
		return m, err
	}
	if m.Text, err = d.string(); err != nil {
		return m, err
	}
	if m.Timestamp, err = d.uint(); err != nil {
		return m, err
	}
	return m, nil
}

func (d *decoder) joinAccepted() (JoinAccepted, error) {
	var m JoinAccepted
	n, err := d.length(minChatMessageSize)
	if err != nil {
		return m, err
	}
	if n > 0 {
		m.History = make([]ChatMessage, n)
		for i := range m.History {
			if m.History[i], err = d.chatMessage(); err != nil {
				return m, err
			}
		}
	}
	n, err = d.length(minMemberSize)
	if err != nil {
		return m, err
	}
	if n > 0 {
		m.Participants = make([]Member, n)
		for i := range m.Participants {
			if m.Participants[i].ID, err = d.id(); err != nil {
				return m, err
			}
			if m.Participants[i].Username, err = d.string(); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}
