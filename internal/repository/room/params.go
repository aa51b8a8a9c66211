package room

type CreateParams struct {
	Room Room
}
