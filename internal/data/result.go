package data

// WriteResult tells a caller which way a race-prone write went, so that
// "already exists" and "not found" are branches rather than errors.
type WriteResult int

const (
	Created WriteResult = iota + 1
	AlreadyExisted
	Updated
	NotFound
)

func (r WriteResult) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyExisted:
		return "already_existed"
	case Updated:
		return "updated"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
