// Package domain contains entities and wire payloads shared by both services, without logic.
package domain

import "strings"

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

type UserID string

// Identity is the verified caller as returned by the authentication collaborator.
type Identity struct {
	ID        UserID `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// DisplayName falls back to the mailbox part of the email when no name is set.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if at := strings.IndexByte(i.Email, '@'); at > 0 {
		return i.Email[:at]
	}
	return string(i.ID)
}

// UserAction is the movement bitmask carried by every input message.
type UserAction uint32

const (
	ActionForward UserAction = 1 << iota
	ActionRight
	ActionBackward
	ActionLeft
	ActionJump
	ActionRun
	ActionCrouch
)

func (a UserAction) Has(flag UserAction) bool { return a&flag != 0 }

// Input is one client input sample.
type Input struct {
	Action UserAction `json:"action"`
	Yaw    float64    `json:"yaw"`
	Pitch  float64    `json:"pitch"`
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}
