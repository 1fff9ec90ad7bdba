package mvcc

// IsVisible reports whether a version at commitTS, optionally a tombstone,
// is visible to a reader at readTS (spec.md §3 invariant 3). Tombstone
// handling is the caller's responsibility once it has located the newest
// version <= readTS via Version.VisibleAt; IsVisible exists as a single
// predicate for call sites that only have a bare commit_ts (e.g. WOS
// cursor filtering) rather than a full Version chain.
func IsVisible(commitTS, readTS Timestamp) bool {
	return commitTS <= readTS
}

// GCPolicy decides whether a version at candidateTS, given the next-newer
// version's timestamp newerTS (0 if candidateTS is the newest version of
// its key), may be physically discarded under the given watermark
// (spec.md §3 invariant 8 / §4.7 "Version GC").
func GCPolicy(candidateTS, newerTS, watermark Timestamp) bool {
	if newerTS == 0 {
		// Newest version of its key: never discard, something must remain
		// visible to readers at or above the watermark.
		return false
	}
	return newerTS <= watermark
}
