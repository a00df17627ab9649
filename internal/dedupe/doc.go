// Package dedupe tracks already-delivered event ids so each timeline event
// reaches the embedding application at most once per process lifetime.
package dedupe
