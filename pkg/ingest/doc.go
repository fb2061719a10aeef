// Package ingest turns upstream data into record fragments and merges them
// into the record store.
//
// Ingester walks an Instagram profile's timeline, downloads post images
// into <root>/<profile>/media/ and merges one fragment per post. Importer
// reads fragments produced elsewhere, one JSON object per line.
package ingest
