// Package las decodes and encodes ASPRS LAS point-cloud files, the primary
// scan format accepted by the survey pipeline.
//
// LAS FILE STRUCTURE:
//
//	├── Public header block (227 bytes for 1.0-1.2, 235 for 1.3, 375 for 1.4)
//	├── Variable length records (skipped, located via header size / VLR count)
//	└── Point data records starting at "offset to point data",
//	    point_count × record_length bytes, each record beginning with
//	    X, Y, Z as little-endian int32 raw values.
//
// Coordinates are reconstructed as raw*scale + offset per axis. Record
// length may exceed the point format minimum (extra bytes); it may never
// be shorter.
//
// Every offset read from the file is treated as untrusted and checked
// against the buffer length before use.
package las
