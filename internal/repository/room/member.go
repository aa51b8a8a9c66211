package room

import "time"

const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

type Member struct {
	ConnID   string    `json:"conn_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}
