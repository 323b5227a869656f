// Package traversal implements the two read orderings over a channel
// catalog.
//
//   - BatchTraversal: round-based windows, one contiguous slice per active
//     channel per round.
//   - PointTraversal: single samples interleaved by (index, channel name),
//     backed by a single-slot chunk cache per channel.
//
// Both are pull-driven and single-threaded. State (cursors, caches) belongs
// to the traversal instance; independent instances over the same store do
// not interact. A traversal is not restartable: a second pass needs a new
// instance. Stopping early needs no cleanup.
//
// Errors:
//   - io.EOF marks the end of the sequence.
//   - errors.ErrStoreIO wraps any store failure.
//   - errors.ErrLengthMismatch reports a value/timestamp pair that disagree
//     at read time.
//
// Both kinds abort the traversal; output already delivered stays valid.
package traversal
