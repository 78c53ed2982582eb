package qmc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/saylorsolutions/binmap"
)

// scanPeriod is the number of raw steps after which the scan position repeats, excluding the initial state.
const scanPeriod = 128

var stateMagic = [2]byte{'Q', 'M'}

// stateRecord is the persisted form of State.
// Fields are shifted to be unsigned: x+1, index+1, and dx as 1 for forward or 0 for backward.
type stateRecord struct {
	magic   [2]byte
	x       uint8
	y       uint8
	dir     uint8
	index   uint64
	emitted uint64
}

func (r *stateRecord) mapper() bin.Mapper {
	return bin.MapSequence(
		bin.Byte(&r.magic[0]),
		bin.Byte(&r.magic[1]),
		bin.Byte(&r.x),
		bin.Byte(&r.y),
		bin.Byte(&r.dir),
		bin.Int(&r.index),
		bin.Int(&r.emitted),
	)
}

func (s State) validate() error {
	switch {
	case s.x < -1 || s.x > tableCols:
		return fmt.Errorf("%w: column %d out of range", ErrInvalidState, s.x)
	case s.y < 0 || s.y > 8:
		return fmt.Errorf("%w: row %d out of range", ErrInvalidState, s.y)
	case s.y == 8 && s.x != -1:
		return fmt.Errorf("%w: row 8 at column %d", ErrInvalidState, s.x)
	case s.dx != 1 && s.dx != -1:
		return fmt.Errorf("%w: direction %d", ErrInvalidState, s.dx)
	case s.index < -1:
		return fmt.Errorf("%w: step index %d", ErrInvalidState, s.index)
	case s.emitted < 0 || s.emitted > s.index+1:
		return fmt.Errorf("%w: %d bytes emitted in %d steps", ErrInvalidState, s.emitted, s.index+1)
	}
	want, err := StateAt(s.emitted)
	if err != nil {
		return err
	}
	if s != want {
		return fmt.Errorf("%w: position does not match a scan that emitted %d bytes", ErrInvalidState, s.emitted)
	}
	return nil
}

// skipsBefore counts the discarded steps among raw steps 0 through raw-1.
func skipsBefore(raw int64) int64 {
	if raw <= skipPeriod {
		return 0
	}
	return raw / skipPeriod
}

// StateAt returns the State reached after emitting n bytes from NewState, without generating them.
func StateAt(n int64) (State, error) {
	if n < 0 {
		return State{}, fmt.Errorf("%w: negative mask position %d", ErrInvalidArgument, n)
	}
	// The smallest raw count that emits n bytes never ends on a discarded step.
	raw := n
	for {
		next := n + skipsBefore(raw)
		if next == raw {
			break
		}
		raw = next
	}
	s := NewState()
	steps := raw
	if steps > 0 {
		steps = (steps-1)%scanPeriod + 1
	}
	for i := int64(0); i < steps; i++ {
		s.step()
	}
	s.index = raw - 1
	s.emitted = n
	return s, nil
}

// MarshalBinary encodes the State so a scan can be resumed later with UnmarshalBinary.
func (s State) MarshalBinary() ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	rec := stateRecord{
		magic:   stateMagic,
		x:       uint8(s.x + 1),
		y:       uint8(s.y),
		index:   uint64(s.index + 1),
		emitted: uint64(s.emitted),
	}
	if s.dx > 0 {
		rec.dir = 1
	}
	var buf bytes.Buffer
	if err := rec.mapper().Write(&buf, binary.BigEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a State produced by MarshalBinary.
// The receiver is left unchanged if data is not a valid State.
func (s *State) UnmarshalBinary(data []byte) error {
	var rec stateRecord
	r := bytes.NewReader(data)
	if err := rec.mapper().Read(r, binary.BigEndian); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidState, r.Len())
	}
	if rec.magic != stateMagic {
		return fmt.Errorf("%w: unrecognized header %x", ErrInvalidState, rec.magic)
	}
	next := State{
		x:       int(rec.x) - 1,
		y:       int(rec.y),
		index:   int64(rec.index) - 1,
		emitted: int64(rec.emitted),
	}
	switch rec.dir {
	case 0:
		next.dx = -1
	case 1:
		next.dx = 1
	default:
		return fmt.Errorf("%w: direction byte %d", ErrInvalidState, rec.dir)
	}
	if err := next.validate(); err != nil {
		return err
	}
	*s = next
	return nil
}
