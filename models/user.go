package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// User is owned by the profile service; messaging reads identity and
// writes the activity fields only.
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username string             `bson:"username" json:"username"`
	Name     string             `bson:"name" json:"name"`
	Avatar   string             `bson:"avatar" json:"avatar"`
	IsOnline bool               `bson:"isOnline" json:"isOnline"`
	LastSeen int64              `bson:"lastSeen" json:"lastSeen"` // unix millis
}

func (u *User) DisplayName() string {
	if u == nil {
		return "Unknown"
	}
	if u.Name != "" {
		return u.Name
	}
	if u.Username != "" {
		return u.Username
	}
	return "Unknown"
}

func (u *User) DisplayAvatar() string {
	if u == nil || u.Avatar == "" {
		return FallbackAvatar
	}
	return u.Avatar
}
