package ports

import (
	"context"
	"errors"
)

// ErrRecipientNotFound is returned by send operations when the target id
// does not exist on the network.
var ErrRecipientNotFound = errors.New("no account exists")

// MediaKind selects the media message family for URL sends.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// MediaPayload describes a media message sent by URL pass-through.
type MediaPayload struct {
	Kind     MediaKind `json:"type"`
	URL      string    `json:"url"`
	MimeType string    `json:"mimeType,omitempty"`
	Caption  string    `json:"caption,omitempty"`
	FileName string    `json:"fileName,omitempty"`
}

// Button is one quick-reply option of a buttons message.
type Button struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ButtonsPayload describes a buttons message.
type ButtonsPayload struct {
	Text    string   `json:"text"`
	Footer  string   `json:"footerText,omitempty"`
	Buttons []Button `json:"buttons"`
}

// ListRow is one selectable row of a list message section.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows of a list message.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// ListPayload describes a list message.
type ListPayload struct {
	Title       string        `json:"title"`
	Text        string        `json:"text"`
	ButtonText  string        `json:"buttonText"`
	Description string        `json:"description,omitempty"`
	Sections    []ListSection `json:"sections"`
}

// LocationPayload describes a location message.
type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// ContactCard describes a contact message; the transport renders the vCard.
type ContactCard struct {
	FullName     string `json:"fullName"`
	Organization string `json:"organization,omitempty"`
	PhoneNumber  string `json:"phoneNumber"`
}

// GroupSetting is a group policy toggle.
type GroupSetting string

const (
	GroupSettingAnnouncement    GroupSetting = "announcement"
	GroupSettingNotAnnouncement GroupSetting = "not_announcement"
	GroupSettingLocked          GroupSetting = "locked"
	GroupSettingUnlocked        GroupSetting = "unlocked"
)

// ProtocolClient is one live session handle on the messaging transport.
// Events() delivers the session's event stream; the channel is closed when
// the transport closes, which ends the account's dispatch loop. A client is
// single-use: after Close, a fresh handle must be obtained from the factory.
type ProtocolClient interface {
	Open(ctx context.Context) error
	Close()
	Events() <-chan Event

	// Logout signs the device out on the server side and purges its
	// credentials from the transport store.
	Logout(ctx context.Context) error

	// PurgeCredentials drops locally persisted credential state without a
	// server round trip. Used when the server already invalidated them.
	PurgeCredentials(ctx context.Context) error

	IsOnNetwork(ctx context.Context, id string) (bool, error)
	ConnectedUser() *UserInfo
	IsConnected() bool

	SendText(ctx context.Context, to, body string) (*SendResult, error)
	SendMedia(ctx context.Context, to string, media MediaPayload) (*SendResult, error)
	SendButtons(ctx context.Context, to string, payload ButtonsPayload) (*SendResult, error)
	SendList(ctx context.Context, to string, payload ListPayload) (*SendResult, error)
	SendLocation(ctx context.Context, to string, payload LocationPayload) (*SendResult, error)
	SendContact(ctx context.Context, to string, card ContactCard) (*SendResult, error)
	SendPresence(ctx context.Context, to, state string) error
	UpdateProfilePicture(ctx context.Context, id string, image []byte) error

	FetchAllParticipatingGroups(ctx context.Context) (map[string]GroupInfo, error)
	GroupCreate(ctx context.Context, name string, participants []string) (*GroupInfo, error)
	GroupLeave(ctx context.Context, id string) error
	GroupInviteCode(ctx context.Context, id string) (string, error)
	GroupParticipantsUpdate(ctx context.Context, id string, participants []string, action ParticipantAction) error
	GroupSettingUpdate(ctx context.Context, id string, setting GroupSetting) error
	GroupUpdateSubject(ctx context.Context, id, subject string) error
	GroupUpdateDescription(ctx context.Context, id, description string) error
}

// ClientFactory mints a fresh transport handle for an account key. Each
// reconnect goes through the factory so the previous handle's subscriptions
// cannot leak into the new session.
type ClientFactory interface {
	NewClient(key string) (ProtocolClient, error)
}
