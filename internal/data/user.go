package data

import "time"

type Users interface {
	// GetOrCreate returns the user with the given lower-cased address, creating it on first reference.
	GetOrCreate(address string) (*User, error)
	// Get returns nil if the user does not exist.
	Get(address string) (*User, error)
}

type User struct {
	Address   string    `structs:"address" db:"address"`
	CreatedAt time.Time `structs:"-" db:"created_at"`
}
