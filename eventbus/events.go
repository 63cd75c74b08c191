// Package eventbus carries the events exchanged with the profile
// service over Redis pub/sub.
//
// Every message is a flat JSON object with an eventType and a
// timestamp next to the event fields:
//
//	{"eventType":"UserDeleted","timestamp":1767225600000,"userId":42}
package eventbus

import (
	"encoding/json"
	"time"
)

const (
	TypeUserSaved                 = "UserSaved"
	TypeUserDeleted               = "UserDeleted"
	TypeEmailExistsConfirmed      = "EmailExistsConfirmed"
	TypeUnverifiedAccountsDeleted = "UnverifiedAccountsDeleted"
)

const (
	DefaultInboundChannel  = "user.events"
	DefaultOutboundChannel = "auth.events"
)

// Envelope is the part every event shares
type Envelope struct {
	EventType string `json:"eventType"`
	Timestamp int64  `json:"timestamp"`
}

// UserSaved is published by the profile service once a user exists.
// Password is the raw password entered at registration; PasswordHash
// wins when both are present.
type UserSaved struct {
	Envelope
	UserID       int64  `json:"userId"`
	LoginID      string `json:"loginId"`
	Email        string `json:"email"`
	Password     string `json:"password,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Nickname     string `json:"nickname,omitempty"`
	Role         string `json:"role,omitempty"`
}

type UserDeleted struct {
	Envelope
	UserID int64 `json:"userId"`
}

// EmailExistsConfirmed starts a password reset for Email
type EmailExistsConfirmed struct {
	Envelope
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
}

type UnverifiedAccountsDeleted struct {
	Envelope
	UserIDs      []int64 `json:"userIds"`
	DeletedCount int     `json:"deletedCount"`
}

// Encode flattens the envelope and the event into one JSON object
func Encode(eventType string, at time.Time, event any) ([]byte, error) {
	fields := map[string]any{}

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	fields["eventType"] = eventType
	fields["timestamp"] = at.UnixMilli()
	return json.Marshal(fields)
}

// PeekType reads only the envelope of a message
func PeekType(payload []byte) (Envelope, error) {
	env := Envelope{}
	err := json.Unmarshal(payload, &env)
	return env, err
}
