package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Media is the encoded payload of one clip.
type Media struct {
	ID          string
	ContentType string
	Frames      int
	Content     []byte
	CreatedAt   time.Time
}
