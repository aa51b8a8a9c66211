package track

import "errors"

var (
	ErrTrackNotFound      = errors.New("track not found")
	ErrTrackAlreadyExists = errors.New("track already exists")
)

type Track struct {
	URL          string `redis:"url"`
	Name         string `redis:"name"`
	RegisteredAt int64  `redis:"registered_at"`
}

type SetTrackParams struct {
	Ref          string
	URL          string
	Name         string
	RegisteredAt int64
}
