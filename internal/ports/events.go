package ports

// Event is one item of an account's protocol event stream. The concrete
// types below form a closed set consumed by the per-account dispatch loop.
type Event interface {
	isEvent()
}

// ConnectionUpdate reports a lifecycle transition and, during login, the
// current QR challenge payload.
type ConnectionUpdate struct {
	State  ConnectionState
	Reason DisconnectReason
	QRCode string
}

// PresenceUpdate reports a contact's availability change.
type PresenceUpdate struct {
	From        string `json:"from"`
	Unavailable bool   `json:"unavailable"`
	LastSeen    int64  `json:"lastSeen,omitempty"`
}

// ChatsSet replaces the whole chat mirror (initial sync).
type ChatsSet struct {
	Chats []Chat
}

// ChatsUpsert introduces newly observed chats.
type ChatsUpsert struct {
	Chats []Chat
}

// ChatsUpdate carries partial metadata changes for existing chats.
type ChatsUpdate struct {
	Patches []ChatPatch
}

// ChatsDelete removes chats by id.
type ChatsDelete struct {
	IDs []string
}

// MessagesUpsert delivers inbound messages. Only Kind "notify" is relayed;
// "prepend" batches are history backfill.
type MessagesUpsert struct {
	Kind     string
	Messages []Message
}

const (
	UpsertNotify  = "notify"
	UpsertPrepend = "prepend"
)

// GroupsUpsert announces groups the account joined or created.
type GroupsUpsert struct {
	Groups []GroupInfo
}

// GroupsUpdate carries group metadata changes.
type GroupsUpdate struct {
	Updates []GroupPatch
}

// GroupParticipantsUpdate carries one membership mutation for one group.
type GroupParticipantsUpdate struct {
	GroupID      string            `json:"id"`
	Action       ParticipantAction `json:"action"`
	Participants []string          `json:"participants"`
}

// CallOffer reports an incoming call.
type CallOffer struct {
	CallID          string `json:"id"`
	From            string `json:"from"`
	Timestamp       int64  `json:"timestamp"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
}

// CallTerminate reports the end of a call.
type CallTerminate struct {
	CallID    string `json:"id"`
	From      string `json:"from"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

func (ConnectionUpdate) isEvent()        {}
func (PresenceUpdate) isEvent()          {}
func (ChatsSet) isEvent()                {}
func (ChatsUpsert) isEvent()             {}
func (ChatsUpdate) isEvent()             {}
func (ChatsDelete) isEvent()             {}
func (MessagesUpsert) isEvent()          {}
func (GroupsUpsert) isEvent()            {}
func (GroupsUpdate) isEvent()            {}
func (GroupParticipantsUpdate) isEvent() {}
func (CallOffer) isEvent()               {}
func (CallTerminate) isEvent()           {}
