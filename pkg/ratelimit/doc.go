// Package ratelimit paces requests to Instagram and media hosts.
//
// SlidingWindow enforces requests-per-minute against the API; TokenBucket
// caps bursts of media downloads. Both block in Wait until a slot frees up
// or the context ends.
package ratelimit
