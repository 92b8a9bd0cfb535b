// Package blob owns the detection data model shared by the ingestion path.
//
// Responsibilities: the BoundingBox and Detection types produced by the
// wire decoder (blob/wire), carried through bounded ingest channels
// (blob/ingest), recorded and replayed (blob/playback), and received from
// the network (blob/network). Detections are consumed by the
// triangulation engine in internal/triangulate.
//
// Dependency rule: blob and its subpackages have no dependency on the
// geometry or triangulation layers.
package blob
