package core

// Tombstoner is any record shape that can carry a soft-delete marker.
type Tombstoner interface {
	IsTombstoned() bool
}

// IsDeleted reports whether r is a soft-deleted marker that must be hidden
// from consumers. A nil Tombstoner is never deleted.
func IsDeleted(r Tombstoner) bool {
	if r == nil {
		return false
	}
	return r.IsTombstoned()
}

// FilterVisible returns the records that are not tombstoned, preserving
// input order. A non-nil input always yields a non-nil result.
func FilterVisible[T Tombstoner](records []T) []T {
	if records == nil {
		return nil
	}
	out := make([]T, 0, len(records))
	for _, r := range records {
		if r.IsTombstoned() {
			continue
		}
		out = append(out, r)
	}
	return out
}
