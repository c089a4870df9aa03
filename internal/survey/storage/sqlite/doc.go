// Package sqlite contains the SQLite repository for survey records: scans,
// detected floors and walls, exported plans and the scan event log.
//
// Writes that must be seen together (a processing result, a failure, a
// status change and its audit event) run in a single transaction so a
// crash never leaves half-written detections behind.
package sqlite
