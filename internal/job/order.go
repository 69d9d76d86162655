package job

import "time"

// Eligible reports whether a consumer may claim r at now: ready and due, or
// reserved with an expired lease.
func Eligible(r *Record, now time.Time) bool {
	return r.IsReady(now) || r.LeaseExpired(now)
}

// Before reports whether a is served ahead of b.
// Jobs are ordered by: priority (DESC), until (ASC, unset first), id (ASC)
func Before(a, b *Record) bool {
	// Higher priority comes first
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}

	// Earlier due time comes first, no due time counts as earliest
	au, bu := dueKey(a), dueKey(b)
	if au != bu {
		return au < bu
	}

	// Insertion order breaks ties
	return a.ID < b.ID
}

func dueKey(r *Record) int64 {
	if r.Until == nil {
		return 0
	}
	return r.Until.UnixMilli()
}

// Next returns the best-ranked eligible record, or nil
func Next(records []*Record, now time.Time) *Record {
	var best *Record
	for _, r := range records {
		if !Eligible(r, now) {
			continue
		}
		if best == nil || Before(r, best) {
			best = r
		}
	}
	return best
}
