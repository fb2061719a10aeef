// Package checkpoint saves and resumes the progress of a profile ingestion.
//
// A checkpoint holds the timeline cursor and the posts already merged into
// the record store. It lives in <root>/.checkpoints/<profile>.checkpoint.json,
// is written atomically and is removed once the profile completes.
package checkpoint
