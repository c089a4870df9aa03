package e57

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var (
	// ErrUnsupportedContainerVariant reports a well-formed container that
	// uses a feature with no LAS mapping.
	ErrUnsupportedContainerVariant = errors.New("unsupported E57 container variant")

	// ErrMalformedContainer reports structural corruption.
	ErrMalformedContainer = errors.New("malformed E57 container")
)

const (
	fileSignature  = "ASTM-E57"
	fileHeaderSize = 48
	crcSize        = 4

	minPageSize = 64
	maxPageSize = 1 << 20

	sectionHeaderSize       = 32
	compressedVectorSection = 1

	packetIndex = 0
	packetData  = 1
	packetEmpty = 2
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// fileHeader is the fixed 48-byte header at the start of the first page.
type fileHeader struct {
	Major, Minor      uint32
	PhysicalLength    uint64
	XMLPhysicalOffset uint64
	XMLLogicalLength  uint64
	PageSize          uint64
}

// container is an un-paged view of an E57 file.
type container struct {
	header  fileHeader
	logical []byte
}

func openContainer(buf []byte) (*container, error) {
	if len(buf) < fileHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the file header", ErrMalformedContainer, len(buf))
	}
	if string(buf[:8]) != fileSignature {
		return nil, fmt.Errorf("%w: bad signature %q", ErrMalformedContainer, buf[:8])
	}
	le := binary.LittleEndian
	h := fileHeader{
		Major:             le.Uint32(buf[8:]),
		Minor:             le.Uint32(buf[12:]),
		PhysicalLength:    le.Uint64(buf[16:]),
		XMLPhysicalOffset: le.Uint64(buf[24:]),
		XMLLogicalLength:  le.Uint64(buf[32:]),
		PageSize:          le.Uint64(buf[40:]),
	}
	if h.Major != 1 {
		return nil, fmt.Errorf("%w: file version %d.%d", ErrUnsupportedContainerVariant, h.Major, h.Minor)
	}
	if h.PageSize < minPageSize || h.PageSize > maxPageSize {
		return nil, fmt.Errorf("%w: page size %d", ErrMalformedContainer, h.PageSize)
	}
	if h.PhysicalLength != uint64(len(buf)) {
		return nil, fmt.Errorf("%w: header declares %d bytes, file has %d", ErrMalformedContainer, h.PhysicalLength, len(buf))
	}
	if uint64(len(buf))%h.PageSize != 0 {
		return nil, fmt.Errorf("%w: file size %d is not a whole number of %d-byte pages", ErrMalformedContainer, len(buf), h.PageSize)
	}

	pageSize := int(h.PageSize)
	payload := pageSize - crcSize
	pages := len(buf) / pageSize
	logical := make([]byte, 0, pages*payload)
	for i := 0; i < pages; i++ {
		page := buf[i*pageSize : (i+1)*pageSize]
		want := binary.BigEndian.Uint32(page[payload:])
		if got := crc32.Checksum(page[:payload], castagnoli); got != want {
			return nil, fmt.Errorf("%w: checksum mismatch on page %d", ErrMalformedContainer, i)
		}
		logical = append(logical, page[:payload]...)
	}
	return &container{header: h, logical: logical}, nil
}

// toLogical maps a physical file offset onto the un-paged stream.
func (c *container) toLogical(physical uint64) (uint64, error) {
	ps := c.header.PageSize
	page, off := physical/ps, physical%ps
	if off >= ps-crcSize {
		return 0, fmt.Errorf("%w: offset %d points into a page checksum", ErrMalformedContainer, physical)
	}
	l := page*(ps-crcSize) + off
	if l > uint64(len(c.logical)) {
		return 0, fmt.Errorf("%w: offset %d beyond end of file", ErrMalformedContainer, physical)
	}
	return l, nil
}

// slice returns n logical bytes starting at a physical offset.
func (c *container) slice(physical, n uint64) ([]byte, error) {
	start, err := c.toLogical(physical)
	if err != nil {
		return nil, err
	}
	if n > uint64(len(c.logical))-start {
		return nil, fmt.Errorf("%w: %d bytes at offset %d exceed file", ErrMalformedContainer, n, physical)
	}
	return c.logical[start : start+n], nil
}

func (c *container) xml() ([]byte, error) {
	return c.slice(c.header.XMLPhysicalOffset, c.header.XMLLogicalLength)
}

// readStreams collects the bytestreams of one CompressedVector binary
// section and returns them with the section's declared length. Buffers for
// the same stream are concatenated in packet order.
func (c *container) readStreams(sectionPhysical uint64, streamCount int) ([][]byte, uint64, error) {
	hdr, err := c.slice(sectionPhysical, sectionHeaderSize)
	if err != nil {
		return nil, 0, err
	}
	le := binary.LittleEndian
	if hdr[0] != compressedVectorSection {
		return nil, 0, fmt.Errorf("%w: section id %d at offset %d", ErrMalformedContainer, hdr[0], sectionPhysical)
	}
	sectionLen := le.Uint64(hdr[8:])
	dataPhysical := le.Uint64(hdr[16:])

	sectionStart, err := c.toLogical(sectionPhysical)
	if err != nil {
		return nil, 0, err
	}
	if sectionLen < sectionHeaderSize || sectionLen > uint64(len(c.logical))-sectionStart {
		return nil, 0, fmt.Errorf("%w: section length %d", ErrMalformedContainer, sectionLen)
	}
	end := sectionStart + sectionLen

	pos, err := c.toLogical(dataPhysical)
	if err != nil {
		return nil, 0, err
	}
	if pos < sectionStart+sectionHeaderSize || pos > end {
		return nil, 0, fmt.Errorf("%w: data offset %d outside section", ErrMalformedContainer, dataPhysical)
	}

	streams := make([][]byte, streamCount)
	for pos+4 <= end {
		ph := c.logical[pos:end]
		packetType := ph[0]
		packetLen := uint64(le.Uint16(ph[2:])) + 1
		if packetLen > uint64(len(ph)) {
			return nil, 0, fmt.Errorf("%w: packet of %d bytes overruns section", ErrMalformedContainer, packetLen)
		}
		switch packetType {
		case packetData:
			if err := appendPacket(streams, ph[:packetLen]); err != nil {
				return nil, 0, err
			}
		case packetIndex, packetEmpty:
		default:
			return nil, 0, fmt.Errorf("%w: packet type %d", ErrMalformedContainer, packetType)
		}
		pos += packetLen
	}
	return streams, sectionLen, nil
}

func appendPacket(streams [][]byte, packet []byte) error {
	le := binary.LittleEndian
	if len(packet) < 6 {
		return fmt.Errorf("%w: data packet too short", ErrMalformedContainer)
	}
	count := int(le.Uint16(packet[4:]))
	if count != len(streams) {
		return fmt.Errorf("%w: packet has %d bytestreams, prototype has %d", ErrMalformedContainer, count, len(streams))
	}
	off := 6 + 2*count
	if off > len(packet) {
		return fmt.Errorf("%w: bytestream table overruns packet", ErrMalformedContainer)
	}
	for i := 0; i < count; i++ {
		n := int(le.Uint16(packet[6+2*i:]))
		if n > len(packet)-off {
			return fmt.Errorf("%w: bytestream %d overruns packet", ErrMalformedContainer, i)
		}
		streams[i] = append(streams[i], packet[off:off+n]...)
		off += n
	}
	return nil
}
