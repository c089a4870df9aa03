package las

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

func TestEncode_RoundTrip(t *testing.T) {
	pts := []pointcloud.Point{
		{X: 12.3456, Y: -4.5, Z: 0.001, Intensity: 900, Classification: 2, R: 10, G: 20, B: 30},
		{X: -3.21, Y: 7.777, Z: 2.95, Intensity: 12, Classification: 6, R: 65535},
		{X: 0, Y: 0, Z: 0},
	}
	for _, color := range []bool{false, true} {
		src := pointcloud.New(pts)
		src.HasColor = color
		buf, err := EncodeBytes(src, WriteOptions{SystemID: "test", Software: "survey.report", Created: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
		require.NoError(t, err)

		got, hdr, err := Parse(buf, int64(len(buf)))
		require.NoError(t, err)
		assert.Equal(t, "test", hdr.SystemID)
		assert.Equal(t, uint16(2026), hdr.CreationYear)
		assert.Equal(t, uint16(60), hdr.CreationDay)
		require.Equal(t, len(pts), got.Count())
		assert.Equal(t, color, got.HasColor)

		for i := range pts {
			assert.InDelta(t, pts[i].X, got.Points[i].X, DefaultScale/2+1e-9)
			assert.InDelta(t, pts[i].Y, got.Points[i].Y, DefaultScale/2+1e-9)
			assert.InDelta(t, pts[i].Z, got.Points[i].Z, DefaultScale/2+1e-9)
			assert.Equal(t, pts[i].Intensity, got.Points[i].Intensity)
			assert.Equal(t, pts[i].Classification, got.Points[i].Classification)
			if color {
				assert.Equal(t, pts[i].R, got.Points[i].R)
			}
		}
	}
}

func TestEncode_CoordinateOutOfRange(t *testing.T) {
	src := pointcloud.New([]pointcloud.Point{{X: 0}, {X: 1e9}})
	var buf bytes.Buffer
	err := Encode(&buf, src, WriteOptions{Scale: 0.0001})
	if !errors.Is(err, ErrCoordinateRange) {
		t.Fatalf("err = %v, want ErrCoordinateRange", err)
	}
}

func TestEncode_Empty(t *testing.T) {
	buf, err := EncodeBytes(pointcloud.New(nil), WriteOptions{})
	require.NoError(t, err)
	assert.Len(t, buf, HeaderSize12)
	got, _, err := Parse(buf, int64(len(buf)))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Count())
	assert.False(t, math.IsNaN(got.Bounds.Min.X))
}
