package las

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

var (
	// ErrMalformedHeader reports a header that is missing required fields
	// or is inconsistent with the file size.
	ErrMalformedHeader = errors.New("malformed LAS header")

	// ErrTruncatedData reports fewer complete point records than declared.
	ErrTruncatedData = errors.New("truncated LAS point data")
)

// Public header block offsets (LAS 1.2 layout, extended by 1.3/1.4).
const (
	offSignature       = 0
	offVersionMajor    = 24
	offVersionMinor    = 25
	offSystemID        = 26
	offSoftware        = 58
	offCreationDay     = 90
	offCreationYear    = 92
	offHeaderSize      = 94
	offPointDataOffset = 96
	offNumVLRs         = 100
	offPointFormat     = 104
	offRecordLength    = 105
	offLegacyCount     = 107
	offLegacyByReturn  = 111
	offScale           = 131
	offOffset          = 155
	offMaxX            = 179
	offCount64         = 247 // LAS 1.4 only

	HeaderSize12 = 227 // minimum header size, LAS 1.0-1.2
	HeaderSize13 = 235
	HeaderSize14 = 375

	signature = "LASF"

	// Bits 6 and 7 of the point format byte flag LASzip compression.
	compressionMask = 0xC0
)

// pointLayout describes where optional attributes live inside one record.
type pointLayout struct {
	minLength    int
	classOffset  int
	classMask    uint8
	colorOffset  int // -1 when the format carries no RGB
	hasIntensity bool
}

// Formats 0-5 pack classification into the low five bits of byte 15;
// formats 6-10 give it a full byte at offset 16.
var pointLayouts = map[uint8]pointLayout{
	0:  {minLength: 20, classOffset: 15, classMask: 0x1F, colorOffset: -1, hasIntensity: true},
	1:  {minLength: 28, classOffset: 15, classMask: 0x1F, colorOffset: -1, hasIntensity: true},
	2:  {minLength: 26, classOffset: 15, classMask: 0x1F, colorOffset: 20, hasIntensity: true},
	3:  {minLength: 34, classOffset: 15, classMask: 0x1F, colorOffset: 28, hasIntensity: true},
	4:  {minLength: 57, classOffset: 15, classMask: 0x1F, colorOffset: -1, hasIntensity: true},
	5:  {minLength: 63, classOffset: 15, classMask: 0x1F, colorOffset: 28, hasIntensity: true},
	6:  {minLength: 30, classOffset: 16, classMask: 0xFF, colorOffset: -1, hasIntensity: true},
	7:  {minLength: 36, classOffset: 16, classMask: 0xFF, colorOffset: 30, hasIntensity: true},
	8:  {minLength: 38, classOffset: 16, classMask: 0xFF, colorOffset: 30, hasIntensity: true},
	9:  {minLength: 59, classOffset: 16, classMask: 0xFF, colorOffset: -1, hasIntensity: true},
	10: {minLength: 67, classOffset: 16, classMask: 0xFF, colorOffset: 30, hasIntensity: true},
}

// Header is the decoded public header block.
type Header struct {
	VersionMajor    uint8
	VersionMinor    uint8
	SystemID        string
	Software        string
	CreationDay     uint16
	CreationYear    uint16
	HeaderSize      uint16
	PointDataOffset uint32
	NumVLRs         uint32
	PointFormat     uint8
	RecordLength    uint16
	PointCount      uint64
	Scale           pointcloud.Vec3
	Offset          pointcloud.Vec3
	Min             pointcloud.Vec3
	Max             pointcloud.Vec3
}

// HasColor reports whether the point format carries RGB.
func (h *Header) HasColor() bool {
	return pointLayouts[h.PointFormat].colorOffset >= 0
}

// ParseHeader decodes and validates the public header block. It does not
// look at point records beyond checking that the point data offset lies
// inside buf.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize12 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d-byte header", ErrMalformedHeader, len(buf), HeaderSize12)
	}
	if string(buf[offSignature:offSignature+4]) != signature {
		return nil, fmt.Errorf("%w: bad signature %q", ErrMalformedHeader, buf[offSignature:offSignature+4])
	}

	le := binary.LittleEndian
	h := &Header{
		VersionMajor:    buf[offVersionMajor],
		VersionMinor:    buf[offVersionMinor],
		SystemID:        cString(buf[offSystemID : offSystemID+32]),
		Software:        cString(buf[offSoftware : offSoftware+32]),
		CreationDay:     le.Uint16(buf[offCreationDay:]),
		CreationYear:    le.Uint16(buf[offCreationYear:]),
		HeaderSize:      le.Uint16(buf[offHeaderSize:]),
		PointDataOffset: le.Uint32(buf[offPointDataOffset:]),
		NumVLRs:         le.Uint32(buf[offNumVLRs:]),
		PointFormat:     buf[offPointFormat],
		RecordLength:    le.Uint16(buf[offRecordLength:]),
		PointCount:      uint64(le.Uint32(buf[offLegacyCount:])),
	}
	h.Scale = readVec3(buf[offScale:])
	h.Offset = readVec3(buf[offOffset:])
	// Bounds are stored max/min interleaved per axis.
	h.Max.X = readF64(buf[offMaxX:])
	h.Min.X = readF64(buf[offMaxX+8:])
	h.Max.Y = readF64(buf[offMaxX+16:])
	h.Min.Y = readF64(buf[offMaxX+24:])
	h.Max.Z = readF64(buf[offMaxX+32:])
	h.Min.Z = readF64(buf[offMaxX+40:])

	if h.VersionMajor != 1 || h.VersionMinor > 4 {
		return nil, fmt.Errorf("%w: unsupported version %d.%d", ErrMalformedHeader, h.VersionMajor, h.VersionMinor)
	}
	if int(h.HeaderSize) < minHeaderSize(h.VersionMinor) {
		return nil, fmt.Errorf("%w: header size %d below minimum for LAS 1.%d", ErrMalformedHeader, h.HeaderSize, h.VersionMinor)
	}
	if int(h.HeaderSize) > len(buf) {
		return nil, fmt.Errorf("%w: header size %d exceeds file size %d", ErrMalformedHeader, h.HeaderSize, len(buf))
	}
	if h.VersionMinor >= 4 {
		if c := le.Uint64(buf[offCount64:]); c != 0 {
			h.PointCount = c
		}
	}
	if h.PointFormat&compressionMask != 0 {
		return nil, fmt.Errorf("%w: compressed point format %d is not supported", ErrMalformedHeader, h.PointFormat&^compressionMask)
	}
	layout, ok := pointLayouts[h.PointFormat]
	if !ok {
		return nil, fmt.Errorf("%w: unknown point format %d", ErrMalformedHeader, h.PointFormat)
	}
	if int(h.RecordLength) < layout.minLength {
		return nil, fmt.Errorf("%w: record length %d shorter than %d required by point format %d",
			ErrMalformedHeader, h.RecordLength, layout.minLength, h.PointFormat)
	}
	if h.Scale.X == 0 || h.Scale.Y == 0 || h.Scale.Z == 0 ||
		math.IsNaN(h.Scale.X) || math.IsNaN(h.Scale.Y) || math.IsNaN(h.Scale.Z) {
		return nil, fmt.Errorf("%w: invalid scale factors %+v", ErrMalformedHeader, h.Scale)
	}
	if h.PointDataOffset < uint32(h.HeaderSize) {
		return nil, fmt.Errorf("%w: point data offset %d inside header (%d bytes)", ErrMalformedHeader, h.PointDataOffset, h.HeaderSize)
	}
	if uint64(h.PointDataOffset) > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: point data offset %d beyond file size %d", ErrMalformedHeader, h.PointDataOffset, len(buf))
	}
	return h, nil
}

// Parse decodes a complete LAS file. declaredLen is the size recorded at
// upload time; pass a negative value when unknown. A buffer shorter than
// declared is reported as truncated.
func Parse(buf []byte, declaredLen int64) (*pointcloud.Cloud, *Header, error) {
	if declaredLen >= 0 && declaredLen != int64(len(buf)) {
		if declaredLen > int64(len(buf)) {
			return nil, nil, fmt.Errorf("%w: have %d of %d declared bytes", ErrTruncatedData, len(buf), declaredLen)
		}
		return nil, nil, fmt.Errorf("%w: declared length %d smaller than file size %d", ErrMalformedHeader, declaredLen, len(buf))
	}

	h, err := ParseHeader(buf)
	if err != nil {
		return nil, nil, err
	}

	recLen := int(h.RecordLength)
	start := int(h.PointDataOffset)
	available := uint64((len(buf) - start) / recLen)
	if available < h.PointCount {
		return nil, h, fmt.Errorf("%w: header declares %d points, only %d complete records present",
			ErrTruncatedData, h.PointCount, available)
	}

	layout := pointLayouts[h.PointFormat]
	le := binary.LittleEndian
	n := int(h.PointCount)
	points := make([]pointcloud.Point, n)
	for i := 0; i < n; i++ {
		rec := buf[start+i*recLen : start+(i+1)*recLen]
		p := &points[i]
		p.X = float64(int32(le.Uint32(rec[0:4])))*h.Scale.X + h.Offset.X
		p.Y = float64(int32(le.Uint32(rec[4:8])))*h.Scale.Y + h.Offset.Y
		p.Z = float64(int32(le.Uint32(rec[8:12])))*h.Scale.Z + h.Offset.Z
		p.Intensity = le.Uint16(rec[12:14])
		p.Classification = rec[layout.classOffset] & layout.classMask
		if layout.colorOffset >= 0 {
			c := rec[layout.colorOffset:]
			p.R = le.Uint16(c[0:2])
			p.G = le.Uint16(c[2:4])
			p.B = le.Uint16(c[4:6])
		}
	}

	cloud := pointcloud.New(points)
	cloud.HasIntensity = layout.hasIntensity
	cloud.HasClassification = true
	cloud.HasColor = layout.colorOffset >= 0
	return cloud, h, nil
}

func minHeaderSize(minor uint8) int {
	switch {
	case minor >= 4:
		return HeaderSize14
	case minor == 3:
		return HeaderSize13
	default:
		return HeaderSize12
	}
}

func readF64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func readVec3(b []byte) pointcloud.Vec3 {
	return pointcloud.Vec3{X: readF64(b[0:]), Y: readF64(b[8:]), Z: readF64(b[16:])}
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
