package waclient

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"wabridge/internal/ports"
)

// handleEvent translates whatsmeow callbacks into the typed event stream.
// Unhandled event kinds are dropped.
func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		c.bindDevice()
		c.emit(ports.ConnectionUpdate{State: ports.StateOpen})

	case *events.Disconnected:
		c.emit(ports.ConnectionUpdate{State: ports.StateClosed, Reason: ports.ReasonConnectionLost})

	case *events.StreamError:
		c.emit(ports.ConnectionUpdate{State: ports.StateClosed, Reason: ports.ReasonStreamError})

	case *events.LoggedOut:
		c.emit(ports.ConnectionUpdate{State: ports.StateClosed, Reason: ports.ReasonLoggedOut})

	case *events.Message:
		c.emit(ports.MessagesUpsert{
			Kind:     ports.UpsertNotify,
			Messages: []ports.Message{mapMessage(v)},
		})

	case *events.HistorySync:
		if chats := mapHistorySync(v); len(chats) > 0 {
			c.emit(ports.ChatsSet{Chats: chats})
		}

	case *events.JoinedGroup:
		c.emit(ports.GroupsUpsert{Groups: []ports.GroupInfo{mapGroupInfo(&v.GroupInfo)}})

	case *events.GroupInfo:
		for _, ev := range mapGroupChange(v) {
			c.emit(ev)
		}

	case *events.Presence:
		p := ports.PresenceUpdate{
			From:        v.From.String(),
			Unavailable: v.Unavailable,
		}
		if !v.LastSeen.IsZero() {
			p.LastSeen = v.LastSeen.Unix()
		}
		c.emit(p)

	case *events.CallOffer:
		c.emit(ports.CallOffer{
			CallID:          v.CallID,
			From:            v.From.String(),
			Timestamp:       v.Timestamp.Unix(),
			Platform:        v.RemotePlatform,
			PlatformVersion: v.RemoteVersion,
		})

	case *events.CallTerminate:
		c.emit(ports.CallTerminate{
			CallID:    v.CallID,
			From:      v.From.String(),
			Timestamp: v.Timestamp.Unix(),
			Reason:    v.Reason,
		})
	}
}

// mapMessage normalizes one inbound message. The message type mirrors the
// innermost payload kind so relay filtering can act on it.
func mapMessage(evt *events.Message) ports.Message {
	m := ports.Message{
		ID:        evt.Info.ID,
		ChatID:    evt.Info.Chat.String(),
		Sender:    evt.Info.Sender.String(),
		FromMe:    evt.Info.IsFromMe,
		PushName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp.Unix(),
	}
	if evt.Info.VerifiedName != nil && evt.Info.VerifiedName.Details != nil {
		m.VerifiedName = evt.Info.VerifiedName.Details.GetVerifiedName()
	}

	msg := evt.Message
	if msg == nil {
		msg = &waE2E.Message{}
	}
	switch {
	case msg.GetProtocolMessage() != nil:
		m.Type = ports.MessageTypeProtocol
	case msg.GetSenderKeyDistributionMessage() != nil:
		m.Type = ports.MessageTypeSenderKeyDistribution
	case msg.GetExtendedTextMessage() != nil:
		m.Type = ports.MessageTypeExtendedText
		m.ExtendedText = msg.GetExtendedTextMessage().GetText()
	case msg.GetButtonsResponseMessage() != nil:
		m.Type = ports.MessageTypeButtonsResponse
		m.ButtonReply = msg.GetButtonsResponseMessage().GetSelectedDisplayText()
	case msg.GetListResponseMessage() != nil:
		m.Type = ports.MessageTypeListResponse
		m.ListReply = msg.GetListResponseMessage().GetTitle()
	case msg.GetContactMessage() != nil:
		m.Type = ports.MessageTypeContact
		m.FormattedName = msg.GetContactMessage().GetDisplayName()
	default:
		m.Type = ports.MessageTypeConversation
		m.Conversation = msg.GetConversation()
	}
	return m
}

// mapHistorySync projects a history sync batch onto chat mirror records.
func mapHistorySync(evt *events.HistorySync) []ports.Chat {
	if evt.Data == nil {
		return nil
	}

	conversations := evt.Data.GetConversations()
	chats := make([]ports.Chat, 0, len(conversations))
	for _, conv := range conversations {
		id := conv.GetID()
		if id == "" {
			continue
		}
		chats = append(chats, ports.Chat{
			ID:   id,
			Name: conv.GetName(),
		})
	}
	return chats
}

func mapGroupInfo(g *types.GroupInfo) ports.GroupInfo {
	info := ports.GroupInfo{
		ID:           g.JID.String(),
		Subject:      g.Name,
		Creation:     g.GroupCreated.Unix(),
		SubjectOwner: g.OwnerJID.String(),
	}
	for _, p := range g.Participants {
		member := ports.Participant{ID: p.JID.String()}
		if p.IsSuperAdmin {
			role := ports.SuperAdminRole
			member.Admin = &role
		} else if p.IsAdmin {
			role := "admin"
			member.Admin = &role
		}
		info.Participants = append(info.Participants, member)
	}
	return info
}

// mapGroupChange splits one group info event into metadata and membership
// updates.
func mapGroupChange(evt *events.GroupInfo) []ports.Event {
	var out []ports.Event
	groupID := evt.JID.String()

	if evt.Name != nil {
		subject := evt.Name.Name
		out = append(out, ports.GroupsUpdate{
			Updates: []ports.GroupPatch{{ID: groupID, Subject: &subject}},
		})
	}

	membership := []struct {
		action ports.ParticipantAction
		jids   []types.JID
	}{
		{ports.ParticipantAdd, evt.Join},
		{ports.ParticipantRemove, evt.Leave},
		{ports.ParticipantPromote, evt.Promote},
		{ports.ParticipantDemote, evt.Demote},
	}
	for _, change := range membership {
		if len(change.jids) == 0 {
			continue
		}
		participants := make([]string, 0, len(change.jids))
		for _, jid := range change.jids {
			participants = append(participants, jid.String())
		}
		out = append(out, ports.GroupParticipantsUpdate{
			GroupID:      groupID,
			Action:       change.action,
			Participants: participants,
		})
	}
	return out
}
