package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrOverflow is returned when a LEB128 value exceeds the maximum size.
var ErrOverflow = errors.New("leb128: overflow")

// Reader is a cursor over an in-memory byte slice. Positions are relative
// to the start of the slice the reader was created over, which makes a
// sub-reader report offsets relative to its section payload.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Position returns the current byte position.
func (r *Reader) Position() int {
	return r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// Seek moves the cursor to pos.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return r.wrapError(fmt.Errorf("seek to %d outside [0, %d]", pos, len(r.buf)))
	}
	r.pos = pos
	return nil
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes. The returned slice aliases the input.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, r.wrapError(io.ErrUnexpectedEOF)
	}
	b := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// Sub reads n bytes and returns a Reader positioned at their start.
func (r *Reader) Sub(n int) (*Reader, error) {
	data, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return NewReader(data), nil
}

// ReadU32 reads an unsigned LEB128 encoded uint32.
func (r *Reader) ReadU32() (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, r.wrapError(ErrOverflow)
		}
	}
}

// ReadU64 reads an unsigned LEB128 encoded uint64.
func (r *Reader) ReadU64() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 70 {
			return 0, r.wrapError(ErrOverflow)
		}
	}
}

// ReadS64 reads a signed LEB128 encoded int64. It also accepts the 32 and
// 33 bit encodings used by i32.const and block types.
func (r *Reader) ReadS64() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 70 {
			return 0, r.wrapError(ErrOverflow)
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= ^int64(0) << shift
	}
	return result, nil
}

// SkipLEB advances past one LEB128 value of any width.
func (r *Reader) SkipLEB() error {
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b&0x80 == 0 {
			return nil
		}
	}
	return r.wrapError(ErrOverflow)
}

// ReadName reads a UTF-8 encoded name (length-prefixed byte sequence).
func (r *Reader) ReadName() (string, error) {
	length, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.wrapError(errors.New("invalid UTF-8 in name"))
	}
	return string(data), nil
}

// ReadU32LE reads a little-endian uint32 (fixed 4 bytes).
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadRemaining returns all unread bytes.
func (r *Reader) ReadRemaining() []byte {
	rest := r.buf[r.pos:]
	r.pos = len(r.buf)
	return rest
}

func (r *Reader) wrapError(err error) error {
	return fmt.Errorf("at position %d: %w", r.pos, err)
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError creates a ParseError with the current position.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{
		Position: r.pos,
		Section:  section,
		Err:      err,
	}
}
