package resource

import (
	"encoding/binary"
	"image/color"
	"io"

	"github.com/saiset-co/sai-resources/types"
)

const colorBytes = 3

// NumericDataOutput writes little-endian numbers into a compact byte slice
// used as resource state.
type NumericDataOutput struct {
	buf []byte
}

func NewNumericDataOutput() *NumericDataOutput {
	return &NumericDataOutput{}
}

// WriteByte implements io.ByteWriter, so unlike the other writers it
// returns an error instead of the stream. The error is always nil.
func (o *NumericDataOutput) WriteByte(value byte) error {
	o.buf = append(o.buf, value)
	return nil
}

func (o *NumericDataOutput) WriteShort(value int16) *NumericDataOutput {
	o.buf = binary.LittleEndian.AppendUint16(o.buf, uint16(value))
	return o
}

func (o *NumericDataOutput) WriteInt(value int32) *NumericDataOutput {
	o.buf = binary.LittleEndian.AppendUint32(o.buf, uint32(value))
	return o
}

// WriteIntColor writes the three low bytes of an RGB value.
func (o *NumericDataOutput) WriteIntColor(value int32) *NumericDataOutput {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(value))
	o.buf = append(o.buf, tmp[:colorBytes]...)
	return o
}

func (o *NumericDataOutput) WriteColor(c color.RGBA) *NumericDataOutput {
	return o.WriteIntColor(int32(uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)))
}

func (o *NumericDataOutput) Bytes() []byte {
	out := make([]byte, len(o.buf))
	copy(out, o.buf)
	return out
}

type NumericDataInput struct {
	buf []byte
	pos int
}

func NewNumericDataInput(data []byte) *NumericDataInput {
	return &NumericDataInput{buf: data}
}

func (i *NumericDataInput) next(n int) ([]byte, error) {
	if len(i.buf)-i.pos < n {
		return nil, types.ErrResourceDataCorrupted
	}
	b := i.buf[i.pos : i.pos+n]
	i.pos += n
	return b, nil
}

func (i *NumericDataInput) ReadByte() (byte, error) {
	b, err := i.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (i *NumericDataInput) ReadShort() (int16, error) {
	b, err := i.next(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (i *NumericDataInput) ReadInt() (int32, error) {
	b, err := i.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (i *NumericDataInput) ReadIntColor() (int32, error) {
	b, err := i.next(colorBytes)
	if err != nil {
		return 0, err
	}

	var tmp [4]byte
	copy(tmp[:], b)
	return int32(binary.LittleEndian.Uint32(tmp[:]) & 0x00FFFFFF), nil
}

func (i *NumericDataInput) ReadColor() (color.RGBA, error) {
	rgb, err := i.ReadIntColor()
	if err != nil {
		return color.RGBA{}, err
	}
	return color.RGBA{R: uint8(rgb >> 16), G: uint8(rgb >> 8), B: uint8(rgb), A: 0xFF}, nil
}

var (
	_ io.ByteWriter = (*NumericDataOutput)(nil)
	_ io.ByteReader = (*NumericDataInput)(nil)
)
