package models

// ChatKind distinguishes two-party chats from multi-party ones
type ChatKind string

const (
	ChatKindPrivate ChatKind = "PRIVATE"
	ChatKindGroup   ChatKind = "GROUP"
)

// Valid reports whether k is a known chat kind
func (k ChatKind) Valid() bool {
	return k == ChatKindPrivate || k == ChatKindGroup
}

// ParticipantRole is the role a profile holds inside a chat
type ParticipantRole string

const (
	RoleMember ParticipantRole = "MEMBER"
	RoleAdmin  ParticipantRole = "ADMIN"
)
