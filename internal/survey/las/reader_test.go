package las

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

type rawPoint struct {
	X, Y, Z   int32
	Intensity uint16
	Class     uint8
	R, G, B   uint16
}

type fixture struct {
	minor   uint8
	format  uint8
	recLen  int
	scale   pointcloud.Vec3
	offset  pointcloud.Vec3
	points  []rawPoint
	vlrPad  int // bytes of VLR payload between header and points
	declare int // point count to declare; -1 uses len(points)
}

// build assembles a LAS file byte for byte so the reader is tested
// independently of Encode.
func (f fixture) build() []byte {
	hdrSize := minHeaderSize(f.minor)
	dataOff := hdrSize + f.vlrPad
	buf := make([]byte, dataOff+len(f.points)*f.recLen)
	le := binary.LittleEndian

	copy(buf, "LASF")
	buf[offVersionMajor] = 1
	buf[offVersionMinor] = f.minor
	copy(buf[offSystemID:], "fixture")
	le.PutUint16(buf[offHeaderSize:], uint16(hdrSize))
	le.PutUint32(buf[offPointDataOffset:], uint32(dataOff))
	buf[offPointFormat] = f.format
	le.PutUint16(buf[offRecordLength:], uint16(f.recLen))
	count := len(f.points)
	if f.declare >= 0 {
		count = f.declare
	}
	if f.minor >= 4 {
		le.PutUint64(buf[offCount64:], uint64(count))
	} else {
		le.PutUint32(buf[offLegacyCount:], uint32(count))
	}
	putVec3(buf[offScale:], f.scale)
	putVec3(buf[offOffset:], f.offset)

	layout := pointLayouts[f.format]
	for i, p := range f.points {
		rec := buf[dataOff+i*f.recLen:]
		le.PutUint32(rec[0:], uint32(p.X))
		le.PutUint32(rec[4:], uint32(p.Y))
		le.PutUint32(rec[8:], uint32(p.Z))
		le.PutUint16(rec[12:], p.Intensity)
		rec[layout.classOffset] = p.Class
		if layout.colorOffset >= 0 {
			le.PutUint16(rec[layout.colorOffset:], p.R)
			le.PutUint16(rec[layout.colorOffset+2:], p.G)
			le.PutUint16(rec[layout.colorOffset+4:], p.B)
		}
	}
	return buf
}

func samplePoints(n int) []rawPoint {
	pts := make([]rawPoint, n)
	for i := range pts {
		pts[i] = rawPoint{
			X:         int32(i*37 - 500),
			Y:         int32(-i * 11),
			Z:         int32(i * 3),
			Intensity: uint16(i * 100),
			Class:     uint8(i % 7),
			R:         uint16(i),
			G:         uint16(2 * i),
			B:         uint16(3 * i),
		}
	}
	return pts
}

func TestParse_CoordinatesMatchScaleAndOffset(t *testing.T) {
	cases := []struct {
		name   string
		minor  uint8
		format uint8
		recLen int
		color  bool
	}{
		{"1.2 format 0", 2, 0, 20, false},
		{"1.2 format 1 extra bytes", 2, 1, 32, false},
		{"1.2 format 2", 2, 2, 26, true},
		{"1.3 format 3", 3, 3, 34, true},
		{"1.4 format 6", 4, 6, 30, false},
		{"1.4 format 7", 4, 7, 36, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := fixture{
				minor:   tc.minor,
				format:  tc.format,
				recLen:  tc.recLen,
				scale:   pointcloud.Vec3{X: 0.001, Y: 0.002, Z: 0.0005},
				offset:  pointcloud.Vec3{X: 100, Y: -50, Z: 2.5},
				points:  samplePoints(25),
				vlrPad:  54,
				declare: -1,
			}
			buf := f.build()
			cloud, hdr, err := Parse(buf, int64(len(buf)))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if uint64(cloud.Count()) != hdr.PointCount || cloud.Count() != len(f.points) {
				t.Fatalf("count = %d, header = %d", cloud.Count(), hdr.PointCount)
			}
			if cloud.HasColor != tc.color {
				t.Errorf("HasColor = %v, want %v", cloud.HasColor, tc.color)
			}
			for i, raw := range f.points {
				p := cloud.Points[i]
				wantX := float64(raw.X)*f.scale.X + f.offset.X
				wantY := float64(raw.Y)*f.scale.Y + f.offset.Y
				wantZ := float64(raw.Z)*f.scale.Z + f.offset.Z
				if p.X != wantX || p.Y != wantY || p.Z != wantZ {
					t.Fatalf("point %d = (%v,%v,%v), want (%v,%v,%v)", i, p.X, p.Y, p.Z, wantX, wantY, wantZ)
				}
				if p.Intensity != raw.Intensity {
					t.Errorf("point %d intensity = %d, want %d", i, p.Intensity, raw.Intensity)
				}
				if p.Classification != raw.Class {
					t.Errorf("point %d class = %d, want %d", i, p.Classification, raw.Class)
				}
				if tc.color && (p.R != raw.R || p.G != raw.G || p.B != raw.B) {
					t.Errorf("point %d colour = %d/%d/%d", i, p.R, p.G, p.B)
				}
			}
			wantMinZ := f.offset.Z
			if math.Abs(cloud.Bounds.Min.Z-wantMinZ) > 1e-12 {
				t.Errorf("bounds min z = %v, want %v", cloud.Bounds.Min.Z, wantMinZ)
			}
		})
	}
}

func TestParse_TruncatedRecords(t *testing.T) {
	f := fixture{
		minor: 2, format: 0, recLen: 20,
		scale:   pointcloud.Vec3{X: 0.01, Y: 0.01, Z: 0.01},
		points:  samplePoints(10),
		declare: -1,
	}
	full := f.build()
	// Every cut that leaves fewer than 10 complete records must be reported
	// as truncation, never a short cloud or a panic.
	for cut := len(full) - 1; cut >= HeaderSize12; cut -= 7 {
		buf := full[:cut]
		_, _, err := Parse(buf, int64(len(buf)))
		if !errors.Is(err, ErrTruncatedData) {
			t.Fatalf("cut at %d: err = %v, want ErrTruncatedData", cut, err)
		}
	}
}

func TestParse_DeclaredLengthMismatch(t *testing.T) {
	f := fixture{minor: 2, format: 0, recLen: 20, scale: pointcloud.Vec3{X: 1, Y: 1, Z: 1}, points: samplePoints(3), declare: -1}
	buf := f.build()

	if _, _, err := Parse(buf[:len(buf)-20], int64(len(buf))); !errors.Is(err, ErrTruncatedData) {
		t.Errorf("short buffer: err = %v, want ErrTruncatedData", err)
	}
	if _, _, err := Parse(buf, int64(len(buf)-1)); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("long buffer: err = %v, want ErrMalformedHeader", err)
	}
	if _, _, err := Parse(buf, -1); err != nil {
		t.Errorf("unknown declared length: %v", err)
	}
}

func TestParse_DeclaredCountExceedsRecords(t *testing.T) {
	f := fixture{minor: 4, format: 6, recLen: 30, scale: pointcloud.Vec3{X: 1, Y: 1, Z: 1}, points: samplePoints(4), declare: 1 << 40}
	buf := f.build()
	_, _, err := Parse(buf, int64(len(buf)))
	if !errors.Is(err, ErrTruncatedData) {
		t.Fatalf("err = %v, want ErrTruncatedData", err)
	}
}

func TestParseHeader_Malformed(t *testing.T) {
	good := fixture{minor: 2, format: 0, recLen: 20, scale: pointcloud.Vec3{X: 1, Y: 1, Z: 1}, points: samplePoints(2), declare: -1}

	cases := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"too short", func(b []byte) []byte { return b[:100] }},
		{"bad signature", func(b []byte) []byte { copy(b, "LASX"); return b }},
		{"bad version", func(b []byte) []byte { b[offVersionMajor] = 2; return b }},
		{"header size too small", func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[offHeaderSize:], 100)
			return b
		}},
		{"unknown format", func(b []byte) []byte { b[offPointFormat] = 42; return b }},
		{"compressed format", func(b []byte) []byte { b[offPointFormat] = 0x80; return b }},
		{"record length below minimum", func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[offRecordLength:], 12)
			return b
		}},
		{"zero scale", func(b []byte) []byte { putF64(b[offScale+8:], 0); return b }},
		{"data offset inside header", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[offPointDataOffset:], 10)
			return b
		}},
		{"data offset past end", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[offPointDataOffset:], 1<<30)
			return b
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := tc.mutate(good.build())
			if _, err := ParseHeader(buf); !errors.Is(err, ErrMalformedHeader) {
				t.Errorf("err = %v, want ErrMalformedHeader", err)
			}
			if _, _, err := Parse(buf, int64(len(buf))); !errors.Is(err, ErrMalformedHeader) {
				t.Errorf("Parse err = %v, want ErrMalformedHeader", err)
			}
		})
	}
}

func TestParse_ZeroPoints(t *testing.T) {
	f := fixture{minor: 2, format: 0, recLen: 20, scale: pointcloud.Vec3{X: 1, Y: 1, Z: 1}, declare: -1}
	buf := f.build()
	cloud, _, err := Parse(buf, int64(len(buf)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cloud.Count() != 0 {
		t.Errorf("count = %d, want 0", cloud.Count())
	}
}
