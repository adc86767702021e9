package engine

import (
	"context"
	"errors"
	"sync"

	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

// Reconciler owns the in-memory chat mirror of one account and keeps the
// persisted copy in step. Every mutation works on a clone and only swaps the
// clone in after the store accepted it, so a failed write leaves both the
// memory and the stored mirror at their previous state.
type Reconciler struct {
	key       string
	store     ports.InstanceRepository
	logger    *logger.Logger
	recentCap int

	mu    sync.Mutex // held across the store write so persisted state stays ordered
	chats []ports.Chat
}

func NewReconciler(key string, store ports.InstanceRepository, log *logger.Logger, recentCap int) *Reconciler {
	if recentCap <= 0 {
		recentCap = 50
	}
	return &Reconciler{
		key:       key,
		store:     store,
		logger:    log.WithModule("reconciler").WithSession(key),
		recentCap: recentCap,
	}
}

// Load restores the persisted mirror, if any. Called once before the first
// connection attempt of an account.
func (r *Reconciler) Load(ctx context.Context) error {
	chats, err := r.store.GetChats(ctx, r.key)
	if err != nil {
		if errors.Is(err, ports.ErrInstanceNotFound) {
			return nil
		}
		return err
	}
	r.mu.Lock()
	r.chats = chats
	r.mu.Unlock()
	return nil
}

// Chats returns a copy of the mirror.
func (r *Reconciler) Chats() []ports.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneChats(r.chats)
}

// Find returns a copy of the chat with the given id.
func (r *Reconciler) Find(id string) (ports.Chat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.ID == id {
			return cloneChat(c), true
		}
	}
	return ports.Chat{}, false
}

// apply runs one mutation against a clone of the mirror, persists the result
// and swaps it in. Store failures are logged and the mutation is discarded.
func (r *Reconciler) apply(ctx context.Context, op string, mutate func(chats []ports.Chat) []ports.Chat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := mutate(cloneChats(r.chats))
	if err := r.store.ReplaceChats(ctx, r.key, next); err != nil {
		r.logger.WithError(err).ErrorWithFields("failed to persist chat mirror", map[string]interface{}{
			"operation": op,
		})
		return
	}
	r.chats = next
}

// SetChats replaces the whole mirror from an initial sync batch. Recent
// message buffers always start empty.
func (r *Reconciler) SetChats(ctx context.Context, chats []ports.Chat) {
	r.apply(ctx, "set", func([]ports.Chat) []ports.Chat {
		next := make([]ports.Chat, 0, len(chats))
		seen := make(map[string]bool, len(chats))
		for _, c := range chats {
			if c.ID == "" || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			c.Messages = nil
			next = append(next, cloneChat(c))
		}
		return next
	})
}

// UpsertChats appends newly observed chats, skipping ids already present in
// the mirror or duplicated within the batch.
func (r *Reconciler) UpsertChats(ctx context.Context, chats []ports.Chat) {
	r.apply(ctx, "upsert", func(next []ports.Chat) []ports.Chat {
		seen := make(map[string]bool, len(next))
		for _, c := range next {
			seen[c.ID] = true
		}
		for _, c := range chats {
			if c.ID == "" || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			c.Messages = nil
			next = append(next, cloneChat(c))
		}
		return next
	})
}

// UpdateChats shallow-merges metadata patches into existing chats. Absent
// patch fields never erase stored values; unknown ids are skipped.
func (r *Reconciler) UpdateChats(ctx context.Context, patches []ports.ChatPatch) {
	r.apply(ctx, "update", func(next []ports.Chat) []ports.Chat {
		for _, p := range patches {
			for i := range next {
				if next[i].ID != p.ID {
					continue
				}
				if p.Name != nil {
					next[i].Name = *p.Name
				}
				if p.Creation != nil {
					next[i].Creation = *p.Creation
				}
				if p.SubjectOwner != nil {
					next[i].SubjectOwner = *p.SubjectOwner
				}
				break
			}
		}
		return next
	})
}

// DeleteChats removes chats by id.
func (r *Reconciler) DeleteChats(ctx context.Context, ids []string) {
	r.apply(ctx, "delete", func(next []ports.Chat) []ports.Chat {
		drop := make(map[string]bool, len(ids))
		for _, id := range ids {
			drop[id] = true
		}
		kept := next[:0]
		for _, c := range next {
			if !drop[c.ID] {
				kept = append(kept, c)
			}
		}
		return kept
	})
}

// ApplyGroupCreate records groups the account joined or created.
func (r *Reconciler) ApplyGroupCreate(ctx context.Context, groups []ports.GroupInfo) {
	r.apply(ctx, "group_create", func(next []ports.Chat) []ports.Chat {
		for _, g := range groups {
			if idx := indexOf(next, g.ID); idx >= 0 {
				next[idx].Name = g.Subject
				next[idx].Participant = cloneParticipants(g.Participants)
				next[idx].Creation = g.Creation
				next[idx].SubjectOwner = g.SubjectOwner
				continue
			}
			next = append(next, ports.Chat{
				ID:           g.ID,
				Name:         g.Subject,
				Participant:  cloneParticipants(g.Participants),
				Creation:     g.Creation,
				SubjectOwner: g.SubjectOwner,
			})
		}
		return next
	})
}

// ApplyGroupUpdate merges group metadata patches.
func (r *Reconciler) ApplyGroupUpdate(ctx context.Context, updates []ports.GroupPatch) {
	r.apply(ctx, "group_update", func(next []ports.Chat) []ports.Chat {
		for _, u := range updates {
			if idx := indexOf(next, u.ID); idx >= 0 && u.Subject != nil {
				next[idx].Name = *u.Subject
			}
		}
		return next
	})
}

// ApplyParticipantsUpdate mutates one group's membership. When the group
// owner is removed the whole chat record collapses out of the mirror.
func (r *Reconciler) ApplyParticipantsUpdate(ctx context.Context, ev ports.GroupParticipantsUpdate) {
	r.apply(ctx, "group_participants", func(next []ports.Chat) []ports.Chat {
		idx := indexOf(next, ev.GroupID)
		if idx < 0 {
			r.logger.WarnWithFields("participant update for unknown group", map[string]interface{}{
				"group_id": ev.GroupID,
			})
			return next
		}
		chat := &next[idx]
		if chat.Participant == nil {
			chat.Participant = []ports.Participant{}
		}

		ownerLeft := false
		switch ev.Action {
		case ports.ParticipantAdd:
			for _, id := range ev.Participants {
				chat.Participant = append(chat.Participant, ports.Participant{ID: id})
			}
		case ports.ParticipantRemove:
			drop := make(map[string]bool, len(ev.Participants))
			for _, id := range ev.Participants {
				drop[id] = true
				if id == chat.SubjectOwner {
					ownerLeft = true
				}
			}
			kept := chat.Participant[:0]
			for _, p := range chat.Participant {
				if !drop[p.ID] {
					kept = append(kept, p)
				}
			}
			chat.Participant = kept
		case ports.ParticipantDemote:
			for _, id := range ev.Participants {
				for i := range chat.Participant {
					if chat.Participant[i].ID == id {
						chat.Participant[i].Admin = nil
					}
				}
			}
		case ports.ParticipantPromote:
			for _, id := range ev.Participants {
				for i := range chat.Participant {
					if chat.Participant[i].ID == id {
						role := ports.SuperAdminRole
						chat.Participant[i].Admin = &role
					}
				}
			}
		}

		if ownerLeft {
			return append(next[:idx], next[idx+1:]...)
		}
		return next
	})
}

// RefreshGroups overwrites membership, creation time and ownership of every
// mirrored group from an authoritative snapshot. Groups missing from the
// mirror are added; non-group chats are untouched.
func (r *Reconciler) RefreshGroups(ctx context.Context, groups map[string]ports.GroupInfo) {
	if len(groups) == 0 {
		return
	}
	r.apply(ctx, "group_refresh", func(next []ports.Chat) []ports.Chat {
		matched := make(map[string]bool, len(groups))
		for i := range next {
			g, ok := groups[next[i].ID]
			if !ok {
				continue
			}
			matched[g.ID] = true
			next[i].Participant = cloneParticipants(g.Participants)
			next[i].Creation = g.Creation
			next[i].SubjectOwner = g.SubjectOwner
		}
		for id, g := range groups {
			if matched[id] {
				continue
			}
			next = append(next, ports.Chat{
				ID:           g.ID,
				Name:         g.Subject,
				Participant:  cloneParticipants(g.Participants),
				Creation:     g.Creation,
				SubjectOwner: g.SubjectOwner,
			})
		}
		return next
	})
}

// AppendRecentMessage pushes a message onto its chat's bounded recent buffer.
// The buffer is a serving cache and is not written to the store.
func (r *Reconciler) AppendRecentMessage(msg ports.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.chats {
		if r.chats[i].ID != msg.ChatID {
			continue
		}
		msgs := append(r.chats[i].Messages, msg)
		if len(msgs) > r.recentCap {
			msgs = msgs[len(msgs)-r.recentCap:]
		}
		r.chats[i].Messages = msgs
		return
	}
}

func indexOf(chats []ports.Chat, id string) int {
	for i := range chats {
		if chats[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneChats(chats []ports.Chat) []ports.Chat {
	out := make([]ports.Chat, len(chats))
	for i, c := range chats {
		out[i] = cloneChat(c)
	}
	return out
}

func cloneChat(c ports.Chat) ports.Chat {
	c.Participant = cloneParticipants(c.Participant)
	if c.Messages != nil {
		msgs := make([]ports.Message, len(c.Messages))
		copy(msgs, c.Messages)
		c.Messages = msgs
	}
	return c
}

func cloneParticipants(ps []ports.Participant) []ports.Participant {
	if ps == nil {
		return nil
	}
	out := make([]ports.Participant, len(ps))
	for i, p := range ps {
		if p.Admin != nil {
			role := *p.Admin
			p.Admin = &role
		}
		out[i] = p
	}
	return out
}
