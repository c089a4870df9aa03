package e57

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/survey.report/internal/survey/las"
	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

// LASScale is the quantization used for converted files. It is finer than
// the default LAS writer scale so conversion does not lose the precision
// of typical terrestrial scanners.
const LASScale = 0.0001

// maxRecords bounds a single CompressedVector before allocation.
const maxRecords = 1 << 28

// Summary describes what a conversion read.
type Summary struct {
	Scans     int
	Points    int
	HasColor  bool
	Spherical bool
	Fields    []string
}

// ConvertOptions controls Convert.
type ConvertOptions struct {
	Software string
	Created  time.Time
}

// Convert decodes an E57 container and re-encodes its points as LAS.
func Convert(buf []byte, opts ConvertOptions) ([]byte, *Summary, error) {
	cloud, sum, err := Decode(buf)
	if err != nil {
		return nil, nil, err
	}
	out, err := las.EncodeBytes(cloud, las.WriteOptions{
		Scale:    LASScale,
		SystemID: "E57 conversion",
		Software: opts.Software,
		Created:  opts.Created,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode LAS: %w", err)
	}
	return out, sum, nil
}

// Decode reads every data3D scan in the container, applies each scan's
// pose, and returns the concatenated points.
func Decode(buf []byte) (*pointcloud.Cloud, *Summary, error) {
	c, err := openContainer(buf)
	if err != nil {
		return nil, nil, err
	}
	xmlData, err := c.xml()
	if err != nil {
		return nil, nil, err
	}
	root, err := parseXML(xmlData)
	if err != nil {
		return nil, nil, err
	}
	if crs := root.child("coordinateMetadata").text(); isGeographic(crs) {
		return nil, nil, fmt.Errorf("%w: geographic coordinate system has no local-metre mapping", ErrUnsupportedContainerVariant)
	}

	data3D := root.child("data3D")
	if data3D == nil {
		return nil, nil, fmt.Errorf("%w: no data3D element", ErrMalformedContainer)
	}

	sum := &Summary{}
	var points []pointcloud.Point
	hasIntensity := false
	for i := range data3D.Nodes {
		scan := &data3D.Nodes[i]
		pts, info, err := c.decodeScan(scan)
		if err != nil {
			return nil, nil, fmt.Errorf("scan %d: %w", i, err)
		}
		points = append(points, pts...)
		sum.Scans++
		sum.HasColor = sum.HasColor || info.color
		sum.Spherical = sum.Spherical || info.spherical
		hasIntensity = hasIntensity || info.intensity
		for _, f := range info.fields {
			if !contains(sum.Fields, f) {
				sum.Fields = append(sum.Fields, f)
			}
		}
	}
	sum.Points = len(points)

	cloud := pointcloud.New(points)
	cloud.HasColor = sum.HasColor
	cloud.HasIntensity = hasIntensity
	return cloud, sum, nil
}

type scanInfo struct {
	fields    []string
	color     bool
	intensity bool
	spherical bool
}

func (c *container) decodeScan(scan *node) ([]pointcloud.Point, scanInfo, error) {
	var info scanInfo
	pts := scan.child("points")
	if pts == nil || pts.attr("type") != "CompressedVector" {
		return nil, info, fmt.Errorf("%w: scan without CompressedVector points", ErrMalformedContainer)
	}
	if codecs := pts.child("codecs"); codecs != nil && len(codecs.Nodes) > 0 {
		return nil, info, fmt.Errorf("%w: compressed vector codec %q", ErrUnsupportedContainerVariant, codecs.Nodes[0].XMLName.Local)
	}
	fields, err := parsePrototype(pts.child("prototype"))
	if err != nil {
		return nil, info, err
	}

	idx := map[string]int{}
	for i, f := range fields {
		idx[f.name] = i
		info.fields = append(info.fields, f.name)
	}
	if _, ok := idx["cartesianInvalidState"]; ok {
		return nil, info, fmt.Errorf("%w: cartesianInvalidState has no LAS mapping", ErrUnsupportedContainerVariant)
	}
	if _, ok := idx["sphericalInvalidState"]; ok {
		return nil, info, fmt.Errorf("%w: sphericalInvalidState has no LAS mapping", ErrUnsupportedContainerVariant)
	}

	coord, err := coordinateFields(idx)
	if err != nil {
		return nil, info, err
	}
	info.spherical = coord.spherical

	count, err := pts.intAttr("recordCount", -1)
	if err != nil {
		return nil, info, err
	}
	if count < 0 || count > maxRecords {
		return nil, info, fmt.Errorf("%w: recordCount %d", ErrMalformedContainer, count)
	}
	offset, err := pts.intAttr("fileOffset", -1)
	if err != nil {
		return nil, info, err
	}
	if offset < 0 {
		return nil, info, fmt.Errorf("%w: points without fileOffset", ErrMalformedContainer)
	}

	streams, sectionLen, err := c.readStreams(uint64(offset), len(fields))
	if err != nil {
		return nil, info, err
	}
	if limit := streamRecords(fields, streams, sectionLen); count > limit {
		return nil, info, fmt.Errorf("%w: recordCount %d exceeds the %d records the bytestreams hold",
			ErrMalformedContainer, count, limit)
	}
	cols, err := unpackColumns(fields, streams, int(count))
	if err != nil {
		return nil, info, err
	}

	pose, err := parsePose(scan.child("pose"))
	if err != nil {
		return nil, info, err
	}

	intensity := optionalColumn(fields, cols, idx, "intensity")
	red := optionalColumn(fields, cols, idx, "colorRed")
	green := optionalColumn(fields, cols, idx, "colorGreen")
	blue := optionalColumn(fields, cols, idx, "colorBlue")
	info.intensity = intensity != nil
	info.color = red != nil && green != nil && blue != nil

	out := make([]pointcloud.Point, count)
	a, b, cc := cols[coord.a], cols[coord.b], cols[coord.c]
	for i := range out {
		var x, y, z float64
		if coord.spherical {
			r, az, el := a[i], b[i], cc[i]
			x = r * math.Cos(el) * math.Cos(az)
			y = r * math.Cos(el) * math.Sin(az)
			z = r * math.Sin(el)
		} else {
			x, y, z = a[i], b[i], cc[i]
		}
		x, y, z = pose.apply(x, y, z)
		p := pointcloud.Point{X: x, Y: y, Z: z}
		if intensity != nil {
			p.Intensity = intensity.at(i)
		}
		if info.color {
			p.R, p.G, p.B = red.at(i), green.at(i), blue.at(i)
		}
		out[i] = p
	}
	return out, info, nil
}

// streamRecords is the most records a section can hold: the shortest
// bytestream of any packed field, or one record per section byte when every
// field is constant.
func streamRecords(fields []field, streams [][]byte, sectionLen uint64) int64 {
	limit := int64(-1)
	for i, f := range fields {
		if f.bits == 0 {
			continue
		}
		n := int64(len(streams[i])) * 8 / int64(f.bits)
		if limit < 0 || n < limit {
			limit = n
		}
	}
	if limit < 0 {
		limit = int64(sectionLen)
	}
	return limit
}

type coordIndex struct {
	a, b, c   int
	spherical bool
}

func coordinateFields(idx map[string]int) (coordIndex, error) {
	x, okX := idx["cartesianX"]
	y, okY := idx["cartesianY"]
	z, okZ := idx["cartesianZ"]
	if okX && okY && okZ {
		return coordIndex{a: x, b: y, c: z}, nil
	}
	r, okR := idx["sphericalRange"]
	az, okA := idx["sphericalAzimuth"]
	el, okE := idx["sphericalElevation"]
	if okR && okA && okE {
		return coordIndex{a: r, b: az, c: el, spherical: true}, nil
	}
	return coordIndex{}, fmt.Errorf("%w: prototype has no complete cartesian or spherical coordinates", ErrUnsupportedContainerVariant)
}

// normalized maps an E57 attribute column onto the LAS 16-bit range.
type normalized struct {
	values []float64
	lo, hi float64
}

func optionalColumn(fields []field, cols [][]float64, idx map[string]int, name string) *normalized {
	i, ok := idx[name]
	if !ok {
		return nil
	}
	lo, hi := fields[i].valueRange()
	if fields[i].kind == kindFloat {
		lo, hi = minMax(cols[i])
	}
	return &normalized{values: cols[i], lo: lo, hi: hi}
}

func (n *normalized) at(i int) uint16 {
	if n.hi <= n.lo {
		return 0
	}
	v := (n.values[i] - n.lo) / (n.hi - n.lo) * math.MaxUint16
	return uint16(math.Round(math.Max(0, math.Min(math.MaxUint16, v))))
}

// rigidPose is the scan-to-file transform: rotate by a unit quaternion,
// then translate.
type rigidPose struct {
	r  [3][3]float64
	tx float64
	ty float64
	tz float64
}

func parsePose(n *node) (rigidPose, error) {
	p := rigidPose{r: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
	if n == nil {
		return p, nil
	}
	if rot := n.child("rotation"); rot != nil {
		var q [4]float64
		var err error
		for i, name := range []string{"w", "x", "y", "z"} {
			def := 0.0
			if name == "w" {
				def = 1
			}
			if q[i], err = rot.child(name).float(def); err != nil {
				return p, err
			}
		}
		norm := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
		if norm == 0 {
			return p, fmt.Errorf("%w: zero rotation quaternion", ErrMalformedContainer)
		}
		w, x, y, z := q[0]/norm, q[1]/norm, q[2]/norm, q[3]/norm
		p.r = [3][3]float64{
			{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
			{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
			{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
		}
	}
	if tr := n.child("translation"); tr != nil {
		var err error
		if p.tx, err = tr.child("x").float(0); err != nil {
			return p, err
		}
		if p.ty, err = tr.child("y").float(0); err != nil {
			return p, err
		}
		if p.tz, err = tr.child("z").float(0); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (p rigidPose) apply(x, y, z float64) (float64, float64, float64) {
	return p.r[0][0]*x + p.r[0][1]*y + p.r[0][2]*z + p.tx,
		p.r[1][0]*x + p.r[1][1]*y + p.r[1][2]*z + p.ty,
		p.r[2][0]*x + p.r[2][1]*y + p.r[2][2]*z + p.tz
}

// isGeographic reports whether coordinate metadata names a geographic
// (angular) CRS. Projected and local systems are already in metres.
func isGeographic(crs string) bool {
	u := strings.ToUpper(crs)
	if strings.HasPrefix(u, "PROJCS") || strings.HasPrefix(u, "PROJCRS") {
		return false
	}
	return strings.HasPrefix(u, "GEOGCS") || strings.HasPrefix(u, "GEOGCRS") || strings.Contains(u, "EPSG:4326")
}

func minMax(v []float64) (float64, float64) {
	if len(v) == 0 {
		return 0, 0
	}
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
