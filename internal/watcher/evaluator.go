package watcher

// Evaluate decides whether a follower count crosses a milestone that has
// not yet been announced. The candidate milestone is the count floored to
// a multiple of step; it qualifies only when it exceeds both zero and the
// last announced value.
//
// The function is total: negative counts are clamped to zero, a negative
// lastAnnounced is treated as zero, and a non-positive step never yields
// a milestone.
func Evaluate(currentCount, lastAnnounced, step int64) (int64, bool) {
	if step <= 0 {
		return 0, false
	}
	if currentCount < 0 {
		currentCount = 0
	}
	if lastAnnounced < 0 {
		lastAnnounced = 0
	}

	candidate := (currentCount / step) * step
	if candidate > 0 && candidate > lastAnnounced {
		return candidate, true
	}
	return 0, false
}
