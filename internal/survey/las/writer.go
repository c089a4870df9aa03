package las

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

// ErrCoordinateRange is returned when a coordinate cannot be represented
// as an int32 raw value at the chosen scale.
var ErrCoordinateRange = errors.New("coordinate out of range for LAS scale")

// DefaultScale quantizes coordinates to a millimetre.
const DefaultScale = 0.001

// WriteOptions controls Encode.
type WriteOptions struct {
	// Scale applied to all three axes. Zero selects DefaultScale.
	Scale    float64
	SystemID string
	Software string
	Created  time.Time
}

// Encode writes cloud as a LAS 1.2 file. Point format 2 is used when the
// cloud carries colour, format 0 otherwise. The offset is the cloud's
// minimum corner so raw values stay small.
func Encode(w io.Writer, cloud *pointcloud.Cloud, opts WriteOptions) error {
	scale := opts.Scale
	if scale <= 0 {
		scale = DefaultScale
	}
	n := cloud.Count()
	if uint64(n) > math.MaxUint32 {
		return fmt.Errorf("LAS 1.2 cannot hold %d points", n)
	}

	format := uint8(0)
	recLen := 20
	if cloud.HasColor {
		format = 2
		recLen = 26
	}
	offset := cloud.Bounds.Min

	le := binary.LittleEndian
	hdr := make([]byte, HeaderSize12)
	copy(hdr[offSignature:], signature)
	hdr[offVersionMajor] = 1
	hdr[offVersionMinor] = 2
	copy(hdr[offSystemID:offSystemID+32], opts.SystemID)
	copy(hdr[offSoftware:offSoftware+32], opts.Software)
	if !opts.Created.IsZero() {
		le.PutUint16(hdr[offCreationDay:], uint16(opts.Created.YearDay()))
		le.PutUint16(hdr[offCreationYear:], uint16(opts.Created.Year()))
	}
	le.PutUint16(hdr[offHeaderSize:], HeaderSize12)
	le.PutUint32(hdr[offPointDataOffset:], HeaderSize12)
	le.PutUint32(hdr[offNumVLRs:], 0)
	hdr[offPointFormat] = format
	le.PutUint16(hdr[offRecordLength:], uint16(recLen))
	le.PutUint32(hdr[offLegacyCount:], uint32(n))
	le.PutUint32(hdr[offLegacyByReturn:], uint32(n))
	putVec3(hdr[offScale:], pointcloud.Vec3{X: scale, Y: scale, Z: scale})
	putVec3(hdr[offOffset:], offset)
	b := cloud.Bounds
	putF64(hdr[offMaxX:], b.Max.X)
	putF64(hdr[offMaxX+8:], b.Min.X)
	putF64(hdr[offMaxX+16:], b.Max.Y)
	putF64(hdr[offMaxX+24:], b.Min.Y)
	putF64(hdr[offMaxX+32:], b.Max.Z)
	putF64(hdr[offMaxX+40:], b.Min.Z)

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(hdr); err != nil {
		return err
	}

	rec := make([]byte, recLen)
	for i, p := range cloud.Points {
		x, err := quantize(p.X, offset.X, scale)
		if err != nil {
			return fmt.Errorf("point %d x: %w", i, err)
		}
		y, err := quantize(p.Y, offset.Y, scale)
		if err != nil {
			return fmt.Errorf("point %d y: %w", i, err)
		}
		z, err := quantize(p.Z, offset.Z, scale)
		if err != nil {
			return fmt.Errorf("point %d z: %w", i, err)
		}
		le.PutUint32(rec[0:], uint32(x))
		le.PutUint32(rec[4:], uint32(y))
		le.PutUint32(rec[8:], uint32(z))
		le.PutUint16(rec[12:], p.Intensity)
		rec[14] = 0x09 // return 1 of 1
		rec[15] = p.Classification & 0x1F
		rec[16] = 0 // scan angle rank
		rec[17] = 0 // user data
		le.PutUint16(rec[18:], 0)
		if cloud.HasColor {
			le.PutUint16(rec[20:], p.R)
			le.PutUint16(rec[22:], p.G)
			le.PutUint16(rec[24:], p.B)
		}
		if _, err := bw.Write(rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// EncodeBytes is Encode into a byte slice.
func EncodeBytes(cloud *pointcloud.Cloud, opts WriteOptions) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize12 + cloud.Count()*26)
	if err := Encode(&buf, cloud, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func quantize(v, offset, scale float64) (int32, error) {
	r := math.Round((v - offset) / scale)
	if math.IsNaN(r) || r > math.MaxInt32 || r < math.MinInt32 {
		return 0, fmt.Errorf("%w: %g", ErrCoordinateRange, v)
	}
	return int32(r), nil
}

func putF64(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}

func putVec3(b []byte, v pointcloud.Vec3) {
	putF64(b[0:], v.X)
	putF64(b[8:], v.Y)
	putF64(b[16:], v.Z)
}
