package e57

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"strings"
)

// Test fixtures: a minimal E57 writer covering the subset the decoder
// understands, so tests can build containers with known contents.

const testPageSize = 1024

type fxField struct {
	name      string
	typ       string // Float, ScaledInteger, Integer, or anything else verbatim
	precision string
	min, max  int64
	scale     float64
	offset    float64
	values    []float64
}

type fxPose struct {
	w, x, y, z float64
	tx, ty, tz float64
}

type fxScan struct {
	fields      []fxField
	pose        *fxPose
	codecs      string // raw XML placed inside <codecs>
	recordCount int64  // declared count; 0 means len(fields[0].values)
}

type fxFile struct {
	major     uint32
	coordMeta string
	scans     []fxScan
}

type bitWriter struct {
	buf []byte
	pos uint64
}

func (w *bitWriter) write(v uint64, width uint) {
	for i := uint(0); i < width; i++ {
		if w.pos/8 >= uint64(len(w.buf)) {
			w.buf = append(w.buf, 0)
		}
		if v&(1<<i) != 0 {
			w.buf[w.pos/8] |= 1 << (w.pos % 8)
		}
		w.pos++
	}
}

func (f fxField) width() uint {
	switch f.typ {
	case "Float":
		if f.precision == "single" {
			return 32
		}
		return 64
	default:
		n := uint(0)
		for r := uint64(f.max - f.min); r > 0; r >>= 1 {
			n++
		}
		return n
	}
}

func (f fxField) raw(v float64) uint64 {
	switch f.typ {
	case "Float":
		if f.precision == "single" {
			return uint64(math.Float32bits(float32(v)))
		}
		return math.Float64bits(v)
	case "ScaledInteger":
		return uint64(int64(math.Round((v-f.offset)/f.scale)) - f.min)
	default:
		return uint64(int64(v) - f.min)
	}
}

func (f fxField) xml() string {
	switch f.typ {
	case "Float":
		p := ""
		if f.precision != "" {
			p = fmt.Sprintf(` precision="%s"`, f.precision)
		}
		return fmt.Sprintf(`<%s type="Float"%s/>`, f.name, p)
	case "ScaledInteger":
		return fmt.Sprintf(`<%s type="ScaledInteger" minimum="%d" maximum="%d" scale="%g" offset="%g"/>`, f.name, f.min, f.max, f.scale, f.offset)
	case "Integer":
		return fmt.Sprintf(`<%s type="Integer" minimum="%d" maximum="%d"/>`, f.name, f.min, f.max)
	default:
		return fmt.Sprintf(`<%s type="%s"/>`, f.name, f.typ)
	}
}

func physical(logical int) uint64 {
	payload := testPageSize - 4
	return uint64(logical/payload*testPageSize + logical%payload)
}

// section encodes one CompressedVector binary section placed at logical
// offset at. Streams are split over several packets to exercise
// concatenation.
func (s fxScan) section(at int) []byte {
	streams := make([][]byte, len(s.fields))
	for i, f := range s.fields {
		w := &bitWriter{}
		for _, v := range f.values {
			w.write(f.raw(v), f.width())
		}
		streams[i] = w.buf
	}

	const packets = 3
	var body []byte
	le := binary.LittleEndian
	for p := 0; p < packets; p++ {
		head := make([]byte, 6+2*len(streams))
		head[0] = packetData
		le.PutUint16(head[4:], uint16(len(streams)))
		var bufs []byte
		for i, st := range streams {
			chunk := (len(st) + packets - 1) / packets
			lo := min(p*chunk, len(st))
			hi := min(lo+chunk, len(st))
			le.PutUint16(head[6+2*i:], uint16(hi-lo))
			bufs = append(bufs, st[lo:hi]...)
		}
		pkt := append(head, bufs...)
		for len(pkt)%4 != 0 {
			pkt = append(pkt, 0)
		}
		le.PutUint16(pkt[2:], uint16(len(pkt)-1))
		body = append(body, pkt...)
	}

	hdr := make([]byte, sectionHeaderSize)
	hdr[0] = compressedVectorSection
	le.PutUint64(hdr[8:], uint64(sectionHeaderSize+len(body)))
	le.PutUint64(hdr[16:], physical(at+sectionHeaderSize))
	return append(hdr, body...)
}

func (f fxFile) build() []byte {
	major := f.major
	if major == 0 {
		major = 1
	}
	logical := make([]byte, fileHeaderSize)
	var scansXML strings.Builder
	for _, s := range f.scans {
		at := len(logical)
		logical = append(logical, s.section(at)...)

		var proto strings.Builder
		for _, fl := range s.fields {
			proto.WriteString(fl.xml())
		}
		pose := ""
		if s.pose != nil {
			p := s.pose
			pose = fmt.Sprintf(`<pose type="Structure"><rotation type="Structure"><w type="Float">%g</w><x type="Float">%g</x><y type="Float">%g</y><z type="Float">%g</z></rotation><translation type="Structure"><x type="Float">%g</x><y type="Float">%g</y><z type="Float">%g</z></translation></pose>`,
				p.w, p.x, p.y, p.z, p.tx, p.ty, p.tz)
		}
		count := s.recordCount
		if count == 0 && len(s.fields) > 0 {
			count = int64(len(s.fields[0].values))
		}
		fmt.Fprintf(&scansXML, `<vectorChild type="Structure"><name type="String"><![CDATA[scan]]></name>%s<points type="CompressedVector" fileOffset="%d" recordCount="%d"><prototype type="Structure">%s</prototype><codecs type="Vector" allowHeterogeneousChildren="1">%s</codecs></points></vectorChild>`,
			pose, physical(at), count, proto.String(), s.codecs)
	}

	xmlDoc := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<e57Root type="Structure" xmlns="http://www.astm.org/COMMIT/E57/2010-e57-v1.0">
<formatName type="String"><![CDATA[ASTM E57 3D Imaging Data File]]></formatName>
<coordinateMetadata type="String"><![CDATA[%s]]></coordinateMetadata>
<data3D type="Vector" allowHeterogeneousChildren="1">%s</data3D>
<images2D type="Vector" allowHeterogeneousChildren="1"/>
</e57Root>`, f.coordMeta, scansXML.String())

	xmlAt := len(logical)
	logical = append(logical, xmlDoc...)

	payload := testPageSize - 4
	for len(logical)%payload != 0 {
		logical = append(logical, 0)
	}
	pages := len(logical) / payload

	le := binary.LittleEndian
	copy(logical, fileSignature)
	le.PutUint32(logical[8:], major)
	le.PutUint32(logical[12:], 0)
	le.PutUint64(logical[16:], uint64(pages*testPageSize))
	le.PutUint64(logical[24:], physical(xmlAt))
	le.PutUint64(logical[32:], uint64(len(xmlDoc)))
	le.PutUint64(logical[40:], testPageSize)

	out := make([]byte, 0, pages*testPageSize)
	table := crc32.MakeTable(crc32.Castagnoli)
	for i := 0; i < pages; i++ {
		page := logical[i*payload : (i+1)*payload]
		out = append(out, page...)
		out = binary.BigEndian.AppendUint32(out, crc32.Checksum(page, table))
	}
	return out
}

func cartesianScan(xs, ys, zs []float64) fxScan {
	return fxScan{fields: []fxField{
		{name: "cartesianX", typ: "ScaledInteger", min: -1000000, max: 1000000, scale: 0.0001, values: xs},
		{name: "cartesianY", typ: "ScaledInteger", min: -1000000, max: 1000000, scale: 0.0001, values: ys},
		{name: "cartesianZ", typ: "Float", values: zs},
	}}
}
