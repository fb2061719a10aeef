// Package storage persists records, one document per record.
//
// Two backends implement Store:
//   - FileStore keeps <root>/<namespace>/<id>.json files, written to a
//     temporary file and renamed into place, and answers group and time
//     queries from an in-memory index built the first time a namespace is used.
//   - BadgerStore keeps the same documents in an embedded badger database
//     with secondary keys for group ids and time buckets.
//
// Namespaces are slash-separated paths such as "instagram/alice". Record ids
// never contain a slash.
//
// Locks serializes read-modify-write cycles on a record or namespace;
// the stores themselves only guarantee that each Save is whole.
package storage
