package e57

import "fmt"

// bitReader reads little-endian, LSB-first packed values.
type bitReader struct {
	buf []byte
	pos uint64 // in bits
}

func (r *bitReader) remaining() uint64 {
	return uint64(len(r.buf))*8 - r.pos
}

func (r *bitReader) read(width uint) (uint64, error) {
	if width == 0 {
		return 0, nil
	}
	if uint64(width) > r.remaining() {
		return 0, fmt.Errorf("%w: bytestream exhausted", ErrMalformedContainer)
	}
	var v uint64
	for got := uint(0); got < width; {
		b := r.buf[r.pos/8]
		shift := uint(r.pos % 8)
		take := 8 - shift
		if take > width-got {
			take = width - got
		}
		v |= (uint64(b>>shift) & (1<<take - 1)) << got
		got += take
		r.pos += uint64(take)
	}
	return v, nil
}

// unpackColumns decodes count records from per-field bytestreams into one
// column of values per field.
func unpackColumns(fields []field, streams [][]byte, count int) ([][]float64, error) {
	cols := make([][]float64, len(fields))
	for i, f := range fields {
		r := &bitReader{buf: streams[i]}
		if need := uint64(f.bits) * uint64(count); need > r.remaining() {
			return nil, fmt.Errorf("%w: field %s needs %d bits, stream holds %d",
				ErrMalformedContainer, f.name, need, r.remaining())
		}
		col := make([]float64, count)
		for j := range col {
			raw, err := r.read(f.bits)
			if err != nil {
				return nil, err
			}
			col[j] = f.decode(raw)
		}
		cols[i] = col
	}
	return cols, nil
}
