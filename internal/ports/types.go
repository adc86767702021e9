package ports

import "strings"

// JID domain suffixes distinguishing the two chat id shapes.
const (
	UserSuffix  = "@s.whatsapp.net"
	GroupSuffix = "@g.us"
)

// SuperAdminRole marks a promoted group participant.
const SuperAdminRole = "superadmin"

// ConnectionState is the lifecycle state of an account session.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
)

// DisconnectReason is the cause code carried by a closed connection.
// Only LoggedOut is terminal; every other reason triggers a reconnect.
type DisconnectReason string

const (
	ReasonLoggedOut      DisconnectReason = "loggedOut"
	ReasonConnectionLost DisconnectReason = "connectionLost"
	ReasonStreamError    DisconnectReason = "streamError"
)

// ParticipantAction is a group membership mutation kind.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// Participant is one member of a group chat. Admin is nil for regular
// members and SuperAdminRole for promoted ones.
type Participant struct {
	ID    string  `json:"id"`
	Admin *string `json:"admin"`
}

// Chat is one record of the per-account chat mirror. Individual chats carry
// only ID and Name; group chats additionally carry membership and ownership.
// Messages is a bounded recent-message buffer, not authoritative history.
type Chat struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Participant  []Participant `json:"participant,omitempty"`
	Creation     int64         `json:"creation,omitempty"`
	SubjectOwner string        `json:"subjectOwner,omitempty"`
	Messages     []Message     `json:"messages"`
}

// IsGroup reports whether the chat id has the group-domain shape.
func (c Chat) IsGroup() bool {
	return strings.HasSuffix(c.ID, GroupSuffix)
}

// ChatPatch is a partial chat update. Nil fields are absent from the update
// and must not erase the existing values (shallow-merge law).
type ChatPatch struct {
	ID           string  `json:"id"`
	Name         *string `json:"name,omitempty"`
	Creation     *int64  `json:"creation,omitempty"`
	SubjectOwner *string `json:"subjectOwner,omitempty"`
}

// GroupInfo is the authoritative group snapshot delivered by the transport.
type GroupInfo struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject"`
	Participants []Participant `json:"participants"`
	Creation     int64         `json:"creation"`
	SubjectOwner string        `json:"subjectOwner"`
}

// GroupPatch is a partial group metadata update.
type GroupPatch struct {
	ID      string  `json:"id"`
	Subject *string `json:"subject,omitempty"`
}

// Message is a normalized inbound or outbound protocol message.
type Message struct {
	ID            string `json:"id"`
	ChatID        string `json:"remoteJid"`
	Sender        string `json:"sender,omitempty"`
	FromMe        bool   `json:"fromMe"`
	PushName      string `json:"pushName,omitempty"`
	VerifiedName  string `json:"verifiedName,omitempty"`
	FormattedName string `json:"formattedName,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	Type          string `json:"type"`
	Conversation  string `json:"conversation,omitempty"`
	ExtendedText  string `json:"extendedText,omitempty"`
	ButtonReply   string `json:"buttonReply,omitempty"`
	ListReply     string `json:"listReply,omitempty"`
}

// Message payload kinds. Protocol and sender-key-distribution messages are
// excluded from relay delivery.
const (
	MessageTypeProtocol              = "protocolMessage"
	MessageTypeSenderKeyDistribution = "senderKeyDistributionMessage"
	MessageTypeConversation          = "conversation"
	MessageTypeExtendedText          = "extendedTextMessage"
	MessageTypeButtonsResponse       = "buttonsResponseMessage"
	MessageTypeListResponse          = "listResponseMessage"
	MessageTypeContact               = "contactMessage"
)

// IsGroupMessage reports whether the message originates from a group chat.
func (m Message) IsGroupMessage() bool {
	return strings.HasSuffix(m.ChatID, GroupSuffix)
}

// DisplayText extracts the helpdesk-visible text of the message:
// extended text first, then button-reply label, then list-reply title.
func (m Message) DisplayText() string {
	if m.ExtendedText != "" {
		return m.ExtendedText
	}
	if m.ButtonReply != "" {
		return m.ButtonReply
	}
	if m.ListReply != "" {
		return m.ListReply
	}
	return ""
}

// DeliveryConfig is the per-account delivery configuration snapshot persisted
// alongside the chat mirror.
type DeliveryConfig struct {
	AllowWebhook  bool           `json:"allowWebhook"`
	CustomWebhook string         `json:"customWebhook"`
	Helpdesk      HelpdeskConfig `json:"helpdesk"`
}

// HelpdeskConfig configures the helpdesk (Chatwoot) sink for one account.
type HelpdeskConfig struct {
	Enabled   bool   `json:"enabled"`
	BaseURL   string `json:"baseURL"`
	Token     string `json:"token"`
	InboxID   int    `json:"inboxId"`
	AccountID int    `json:"accountId"`
}

// CommandResult is the structured outcome of an administrative group
// operation. Privilege failures are reported as values, not errors.
type CommandResult struct {
	Error   bool        `json:"error"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// SendResult identifies an accepted outbound message.
type SendResult struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// UserInfo describes the authenticated device owner of a session.
type UserInfo struct {
	ID       string `json:"id"`
	PushName string `json:"pushName,omitempty"`
}

// InstanceSummary is one entry of the active-instance listing.
type InstanceSummary struct {
	Key            string    `json:"instance_key"`
	PhoneConnected bool      `json:"phone_connected"`
	WebhookURL     string    `json:"webhookUrl,omitempty"`
	User           *UserInfo `json:"user,omitempty"`
}
