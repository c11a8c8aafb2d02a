package entities

import (
	"fmt"
	"time"
)

// LicenseCode is a single-use activation code.
type LicenseCode struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	Days       int        `json:"days"`
	IsUsed     bool       `json:"is_used"`
	UsedByChat *int64     `json:"used_by_chat,omitempty"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type SubjectKind uint8

const (
	SubjectGroup SubjectKind = iota + 1
	SubjectUser
)

func (k SubjectKind) String() string {
	switch k {
	case SubjectGroup:
		return "group"
	case SubjectUser:
		return "user"
	}
	return "unknown"
}

// LicenseSubject names who a license is bound to: a group chat or a user
// holding a personal license. Both are stored as configuration rows keyed by
// ChatKey.
type LicenseSubject struct {
	kind SubjectKind
	id   int64
}

func GroupSubject(chatID int64) LicenseSubject { return LicenseSubject{kind: SubjectGroup, id: chatID} }

func UserSubject(userID int64) LicenseSubject { return LicenseSubject{kind: SubjectUser, id: userID} }

func (s LicenseSubject) Kind() SubjectKind { return s.kind }

func (s LicenseSubject) ID() int64 { return s.id }

// ChatKey is the chat id of the configuration row holding this license.
func (s LicenseSubject) ChatKey() int64 { return s.id }

func (s LicenseSubject) IsZero() bool { return s.kind == 0 }

func (s LicenseSubject) String() string {
	return fmt.Sprintf("%s:%d", s.kind, s.id)
}
