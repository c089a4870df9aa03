// Package e57 converts ASTM E57 scan containers into LAS so the rest of
// the pipeline only ever parses one binary format.
//
// E57 FILE STRUCTURE:
//
//	├── Pages of pageSize bytes (normally 1024), each ending in a 4-byte
//	│   big-endian CRC-32C of the preceding pageSize-4 bytes.
//	├── File header (48 bytes, logical offset 0):
//	│     "ASTM-E57", major u32, minor u32, filePhysicalLength u64,
//	│     xmlPhysicalOffset u64, xmlLogicalLength u64, pageSize u64
//	├── Binary sections (CompressedVector point data)
//	└── XML section describing data3D scans, their pose and the record
//	    prototype (field names, types, bit ranges).
//
// Offsets stored in the file are physical (they count CRC bytes);
// everything else in this package works on the un-paged logical stream.
//
// Only the bitPackCodec (empty codecs vector) is decoded. Fields are
// packed least-significant-bit first, one bytestream per prototype field,
// and each bytestream's buffers concatenated across data packets form a
// continuous bit stream.
package e57
