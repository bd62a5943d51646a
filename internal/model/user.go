// Package model defines the data structures used throughout the application.
package model

import "time"

// User is the single locally logged-in account.
//
// The store holds at most one row: logging in as a different email replaces
// the previous user. ServerUserID is the id the remote sharing server knows
// the account by; analysis keys are owned by that id, not by ID.
//
// Token is nil until the first successful login and again after logout.
// It is never serialized to JSON.
type User struct {
	ID           int64     `json:"id"           db:"id"`
	ServerUserID int64     `json:"serverUserId" db:"server_user_id"`
	Username     string    `json:"username"     db:"username"`
	Email        string    `json:"email"        db:"email"`
	Token        *string   `json:"-"            db:"token"`
	CreatedAt    time.Time `json:"createdAt"    db:"created_at"`
}

// HasToken reports whether the user holds a non-empty access token.
func (u *User) HasToken() bool {
	return u != nil && u.Token != nil && *u.Token != ""
}

// UserUpsert is the input to the singleton upsert. Nil pointers leave the
// stored value untouched when the row already exists.
type UserUpsert struct {
	Username     string
	Email        string
	Token        *string
	ServerUserID *int64
}
