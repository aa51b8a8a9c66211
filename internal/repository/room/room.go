package room

import "time"

type Room struct {
	ID         string
	HostConnID string
	TrackRef   string
	TrackURL   string
	Player     Player
	Members    map[string]Member
	CreatedAt  time.Time
	EmptySince time.Time
}

// Clone returns a copy that does not share the members map.
func (r *Room) Clone() Room {
	c := *r
	c.Members = make(map[string]Member, len(r.Members))
	for k, v := range r.Members {
		c.Members[k] = v
	}

	return c
}

func (r *Room) IsHost(connID string) bool {
	return connID != "" && r.HostConnID == connID
}

func (r *Room) MemberByUserID(userID string) (Member, bool) {
	for _, m := range r.Members {
		if m.UserID == userID {
			return m, true
		}
	}

	return Member{}, false
}
