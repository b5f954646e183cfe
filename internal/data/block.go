package data

// LastBlock remembers the highest block whose live events were handled.
type LastBlock interface {
	// Set never moves the stored block backwards.
	Set(uint64) error
	// Get returns nil if nothing was stored yet.
	Get() (*uint64, error)
}
