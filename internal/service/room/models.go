package room

type Member struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	JoinedAt int64  `json:"joined_at"`
}

type Player struct {
	IsPlaying    bool    `json:"is_playing"`
	CurrentTime  float64 `json:"current_time"`
	PlaybackRate float64 `json:"playback_rate"`
	UpdatedAt    int64   `json:"updated_at"`
}

type Track struct {
	Ref  string `json:"ref"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

type Room struct {
	RoomID     string   `json:"room_id"`
	HostUserID string   `json:"host_user_id"`
	TrackRef   string   `json:"track_ref"`
	TrackURL   string   `json:"track_url"`
	Player     Player   `json:"player"`
	MemberList []Member `json:"member_list"`
	ServerTime int64    `json:"server_time"`
}
