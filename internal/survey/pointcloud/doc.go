// Package pointcloud holds the in-memory point set shared by every survey
// processing stage.
//
// A Cloud is owned by the stage that produced it. Stages never mutate a
// cloud they were handed; they return a new Cloud or a derived result.
// Coordinates are always metres in the scan's local frame, Z up.
package pointcloud
