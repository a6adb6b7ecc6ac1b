package domain

import "time"

type UserID int64

type User struct {
	ID          UserID     `db:"id"`
	Username    string     `db:"username"`
	DisplayName *string    `db:"display_name"`
	AvatarURL   *string    `db:"avatar_url"`
	IsOnline    bool       `db:"is_online"`
	LastActive  *time.Time `db:"last_active"`
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Username
}

func (u User) Avatar() string {
	if u.AvatarURL == nil {
		return ""
	}
	return *u.AvatarURL
}

// Principal is the authenticated identity bound to a connection or request.
type Principal struct {
	UserID      UserID
	Username    string
	DisplayName string
	AvatarURL   string
}

func PrincipalFromUser(u User) Principal {
	return Principal{
		UserID:      u.ID,
		Username:    u.Username,
		DisplayName: u.Name(),
		AvatarURL:   u.Avatar(),
	}
}
