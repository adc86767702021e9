package waclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

// Client adapts one whatsmeow session to the protocol client contract. It
// translates the transport's callback events into the typed event stream and
// exposes the send and group operations over parsed JIDs.
type Client struct {
	key       string
	wa        *whatsmeow.Client
	devices   DeviceBinder
	logger    *logger.Logger
	handlerID uint32

	httpClient *http.Client

	mu     sync.Mutex
	closed bool
	events chan ports.Event
}

func newClient(key string, wa *whatsmeow.Client, devices DeviceBinder, log *logger.Logger) *Client {
	c := &Client{
		key:     key,
		wa:      wa,
		devices: devices,
		logger:  log.WithModule("waclient").WithSession(key),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		events: make(chan ports.Event, 64),
	}
	c.handlerID = wa.AddEventHandler(c.handleEvent)
	return c
}

// Open connects the session. Unregistered devices go through the QR pairing
// flow; the challenge channel must be claimed before connecting.
func (c *Client) Open(ctx context.Context) error {
	if c.wa.Store.ID == nil {
		qrChan, err := c.wa.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := c.wa.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go c.watchQRChannel(qrChan)
		return nil
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Close detaches the event handler, disconnects the transport and closes the
// event stream. The handle is dead afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	c.wa.RemoveEventHandler(c.handlerID)
	c.wa.Disconnect()
}

func (c *Client) Events() <-chan ports.Event { return c.events }

// emit delivers an event unless the handle is already closed. The buffer is
// generous; a full buffer means the dispatch loop is wedged, and dropping
// beats deadlocking the transport callback.
func (c *Client) emit(ev ports.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event buffer full, dropping event")
	}
}

func (c *Client) watchQRChannel(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.emit(ports.ConnectionUpdate{State: ports.StateConnecting, QRCode: item.Code})
		case "success":
			// The Connected event carries the open transition.
		default:
			c.logger.InfoWithFields("QR pairing ended", map[string]interface{}{
				"event": item.Event,
			})
			c.emit(ports.ConnectionUpdate{State: ports.StateClosed, Reason: ports.ReasonConnectionLost})
		}
	}
}

// bindDevice records the authenticated device id so later restores reuse the
// same credentials.
func (c *Client) bindDevice() {
	if c.wa.Store.ID == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.devices.SetDeviceJID(ctx, c.key, c.wa.Store.ID.String()); err != nil {
		c.logger.WithError(err).Error("failed to bind device jid")
	}
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.wa.Logout(ctx); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

// PurgeCredentials drops the local device record. Used when the server side
// already invalidated the session.
func (c *Client) PurgeCredentials(ctx context.Context) error {
	if c.wa.Store == nil || c.wa.Store.ID == nil {
		return nil
	}
	if err := c.wa.Store.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete device store: %w", err)
	}
	return nil
}

func (c *Client) IsOnNetwork(_ context.Context, id string) (bool, error) {
	phone := strings.SplitN(id, "@", 2)[0]
	results, err := c.wa.IsOnWhatsApp([]string{"+" + phone})
	if err != nil {
		return false, fmt.Errorf("failed to query number: %w", err)
	}
	if len(results) == 0 {
		return false, nil
	}
	return results[0].IsIn, nil
}

func (c *Client) ConnectedUser() *ports.UserInfo {
	if c.wa.Store.ID == nil {
		return nil
	}
	return &ports.UserInfo{
		ID:       c.wa.Store.ID.String(),
		PushName: c.wa.Store.PushName,
	}
}

func (c *Client) IsConnected() bool {
	return c.wa.IsConnected()
}

func (c *Client) SendText(ctx context.Context, to, body string) (*ports.SendResult, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return nil, fmt.Errorf("invalid JID: %w", err)
	}

	message := &waE2E.Message{
		Conversation: proto.String(body),
	}
	return c.send(ctx, jid, message)
}

func (c *Client) SendMedia(ctx context.Context, to string, media ports.MediaPayload) (*ports.SendResult, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return nil, fmt.Errorf("invalid JID: %w", err)
	}

	data, err := c.fetchMedia(ctx, media.URL)
	if err != nil {
		return nil, err
	}

	uploaded, err := c.wa.Upload(ctx, data, uploadKind(media.Kind))
	if err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}

	return c.send(ctx, jid, buildMediaMessage(media, uploaded))
}

func (c *Client) SendButtons(ctx context.Context, to string, payload ports.ButtonsPayload) (*ports.SendResult, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return nil, fmt.Errorf("invalid JID: %w", err)
	}

	var buttons []*waE2E.ButtonsMessage_Button
	for _, b := range payload.Buttons {
		buttons = append(buttons, &waE2E.ButtonsMessage_Button{
			ButtonID:       proto.String(b.ID),
			ButtonText:     &waE2E.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(b.Text)},
			Type:           waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
			NativeFlowInfo: &waE2E.ButtonsMessage_Button_NativeFlowInfo{},
		})
	}

	buttonsMsg := &waE2E.ButtonsMessage{
		ContentText: proto.String(payload.Text),
		HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
		Buttons:     buttons,
	}
	if payload.Footer != "" {
		buttonsMsg.FooterText = proto.String(payload.Footer)
	}

	message := &waE2E.Message{
		ViewOnceMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{
				ButtonsMessage: buttonsMsg,
			},
		},
	}
	return c.send(ctx, jid, message)
}

func (c *Client) SendList(ctx context.Context, to string, payload ports.ListPayload) (*ports.SendResult, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return nil, fmt.Errorf("invalid JID: %w", err)
	}

	var sections []*waE2E.ListMessage_Section
	for _, s := range payload.Sections {
		var rows []*waE2E.ListMessage_Row
		for _, r := range s.Rows {
			rowID := r.ID
			if rowID == "" {
				rowID = r.Title
			}
			rows = append(rows, &waE2E.ListMessage_Row{
				RowID:       proto.String(rowID),
				Title:       proto.String(r.Title),
				Description: proto.String(r.Description),
			})
		}
		sections = append(sections, &waE2E.ListMessage_Section{
			Title: proto.String(s.Title),
			Rows:  rows,
		})
	}

	listMsg := &waE2E.ListMessage{
		Title:       proto.String(payload.Title),
		Description: proto.String(payload.Text),
		ButtonText:  proto.String(payload.ButtonText),
		ListType:    waE2E.ListMessage_SINGLE_SELECT.Enum(),
		Sections:    sections,
	}
	if payload.Description != "" {
		listMsg.Description = proto.String(payload.Description)
	}

	message := &waE2E.Message{
		ViewOnceMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{
				ListMessage: listMsg,
			},
		},
	}
	return c.send(ctx, jid, message)
}

func (c *Client) SendLocation(ctx context.Context, to string, payload ports.LocationPayload) (*ports.SendResult, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return nil, fmt.Errorf("invalid JID: %w", err)
	}

	message := &waE2E.Message{
		LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(payload.Latitude),
			DegreesLongitude: proto.Float64(payload.Longitude),
			Name:             proto.String(payload.Address),
		},
	}
	return c.send(ctx, jid, message)
}

func (c *Client) SendContact(ctx context.Context, to string, card ports.ContactCard) (*ports.SendResult, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return nil, fmt.Errorf("invalid JID: %w", err)
	}

	vcard := fmt.Sprintf("BEGIN:VCARD\nVERSION:3.0\nFN:%s\nORG:%s;\nTEL;type=CELL;type=VOICE;waid=%s:+%s\nEND:VCARD",
		card.FullName, card.Organization, card.PhoneNumber, card.PhoneNumber)

	message := &waE2E.Message{
		ContactMessage: &waE2E.ContactMessage{
			DisplayName: proto.String(card.FullName),
			Vcard:       proto.String(vcard),
		},
	}
	return c.send(ctx, jid, message)
}

func (c *Client) SendPresence(_ context.Context, to, state string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}

	switch state {
	case "composing":
		return c.wa.SendChatPresence(jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	case "recording":
		return c.wa.SendChatPresence(jid, types.ChatPresenceComposing, types.ChatPresenceMediaAudio)
	case "paused":
		return c.wa.SendChatPresence(jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
	case "available":
		return c.wa.SendPresence(types.PresenceAvailable)
	case "unavailable":
		return c.wa.SendPresence(types.PresenceUnavailable)
	default:
		return fmt.Errorf("unknown presence state: %s", state)
	}
}

// UpdateProfilePicture sets the photo of a group, or of the account itself
// when the id is not a group.
func (c *Client) UpdateProfilePicture(_ context.Context, id string, image []byte) error {
	jid, err := types.ParseJID(id)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	if jid.Server != types.GroupServer {
		jid = types.EmptyJID
	}
	if _, err := c.wa.SetGroupPhoto(jid, image); err != nil {
		return fmt.Errorf("failed to set photo: %w", err)
	}
	return nil
}

func (c *Client) FetchAllParticipatingGroups(ctx context.Context) (map[string]ports.GroupInfo, error) {
	groups, err := c.wa.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch joined groups: %w", err)
	}

	out := make(map[string]ports.GroupInfo, len(groups))
	for _, g := range groups {
		info := mapGroupInfo(g)
		out[info.ID] = info
	}
	return out, nil
}

func (c *Client) GroupCreate(ctx context.Context, name string, participants []string) (*ports.GroupInfo, error) {
	jids, err := parseJIDs(participants)
	if err != nil {
		return nil, err
	}

	group, err := c.wa.CreateGroup(ctx, whatsmeow.ReqCreateGroup{
		Name:         name,
		Participants: jids,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	info := mapGroupInfo(group)
	return &info, nil
}

func (c *Client) GroupLeave(_ context.Context, id string) error {
	jid, err := types.ParseJID(id)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	if err := c.wa.LeaveGroup(jid); err != nil {
		return fmt.Errorf("failed to leave group: %w", err)
	}
	return nil
}

func (c *Client) GroupInviteCode(_ context.Context, id string) (string, error) {
	jid, err := types.ParseJID(id)
	if err != nil {
		return "", fmt.Errorf("invalid JID: %w", err)
	}
	link, err := c.wa.GetGroupInviteLink(jid, false)
	if err != nil {
		return "", fmt.Errorf("failed to get invite link: %w", err)
	}
	return link, nil
}

func (c *Client) GroupParticipantsUpdate(_ context.Context, id string, participants []string, action ports.ParticipantAction) error {
	jid, err := types.ParseJID(id)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	jids, err := parseJIDs(participants)
	if err != nil {
		return err
	}

	var change whatsmeow.ParticipantChange
	switch action {
	case ports.ParticipantAdd:
		change = whatsmeow.ParticipantChangeAdd
	case ports.ParticipantRemove:
		change = whatsmeow.ParticipantChangeRemove
	case ports.ParticipantPromote:
		change = whatsmeow.ParticipantChangePromote
	case ports.ParticipantDemote:
		change = whatsmeow.ParticipantChangeDemote
	default:
		return fmt.Errorf("unknown participant action: %s", action)
	}

	if _, err := c.wa.UpdateGroupParticipants(jid, jids, change); err != nil {
		return fmt.Errorf("failed to update participants: %w", err)
	}
	return nil
}

func (c *Client) GroupSettingUpdate(_ context.Context, id string, setting ports.GroupSetting) error {
	jid, err := types.ParseJID(id)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}

	switch setting {
	case ports.GroupSettingAnnouncement:
		err = c.wa.SetGroupAnnounce(jid, true)
	case ports.GroupSettingNotAnnouncement:
		err = c.wa.SetGroupAnnounce(jid, false)
	case ports.GroupSettingLocked:
		err = c.wa.SetGroupLocked(jid, true)
	case ports.GroupSettingUnlocked:
		err = c.wa.SetGroupLocked(jid, false)
	default:
		return fmt.Errorf("unknown group setting: %s", setting)
	}
	if err != nil {
		return fmt.Errorf("failed to update group setting: %w", err)
	}
	return nil
}

func (c *Client) GroupUpdateSubject(_ context.Context, id, subject string) error {
	jid, err := types.ParseJID(id)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	if err := c.wa.SetGroupName(jid, subject); err != nil {
		return fmt.Errorf("failed to set group name: %w", err)
	}
	return nil
}

func (c *Client) GroupUpdateDescription(_ context.Context, id, description string) error {
	jid, err := types.ParseJID(id)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	if err := c.wa.SetGroupTopic(jid, "", "", description); err != nil {
		return fmt.Errorf("failed to set group topic: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, jid types.JID, message *waE2E.Message) (*ports.SendResult, error) {
	resp, err := c.wa.SendMessage(ctx, jid, message)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &ports.SendResult{
		ID:        resp.ID,
		Timestamp: resp.Timestamp.Unix(),
	}, nil
}

func (c *Client) fetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid media url: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}
	return data, nil
}

func parseJIDs(ids []string) ([]types.JID, error) {
	out := make([]types.JID, 0, len(ids))
	for _, id := range ids {
		jid, err := types.ParseJID(id)
		if err != nil {
			return nil, fmt.Errorf("invalid JID %s: %w", id, err)
		}
		out = append(out, jid)
	}
	return out, nil
}

func uploadKind(kind ports.MediaKind) whatsmeow.MediaType {
	switch kind {
	case ports.MediaVideo:
		return whatsmeow.MediaVideo
	case ports.MediaAudio:
		return whatsmeow.MediaAudio
	case ports.MediaDocument:
		return whatsmeow.MediaDocument
	default:
		return whatsmeow.MediaImage
	}
}

func buildMediaMessage(media ports.MediaPayload, uploaded whatsmeow.UploadResponse) *waE2E.Message {
	switch media.Kind {
	case ports.MediaVideo:
		mimetype := media.MimeType
		if mimetype == "" {
			mimetype = "video/mp4"
		}
		return &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				Caption:       proto.String(media.Caption),
				URL:           &uploaded.URL,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(mimetype),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
			},
		}
	case ports.MediaAudio:
		mimetype := media.MimeType
		if mimetype == "" {
			mimetype = "audio/ogg; codecs=opus"
		}
		return &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				URL:           &uploaded.URL,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(mimetype),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
			},
		}
	case ports.MediaDocument:
		mimetype := media.MimeType
		if mimetype == "" {
			mimetype = "application/octet-stream"
		}
		filename := media.FileName
		if filename == "" {
			filename = "document"
		}
		doc := &waE2E.DocumentMessage{
			Title:         proto.String(filename),
			FileName:      proto.String(filename),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
		if media.Caption != "" {
			doc.Caption = proto.String(media.Caption)
		}
		return &waE2E.Message{DocumentMessage: doc}
	default:
		mimetype := media.MimeType
		if mimetype == "" {
			mimetype = "image/jpeg"
		}
		return &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:       proto.String(media.Caption),
				URL:           &uploaded.URL,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(mimetype),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
			},
		}
	}
}
