package engine

import "strings"

// NormalizeJID expands a bare id into a full protocol id. Ids containing a
// dash are group ids; everything else is an individual contact.
func NormalizeJID(id string) string {
	if strings.Contains(id, "@g.us") || strings.Contains(id, "@s.whatsapp.net") {
		return id
	}
	if strings.Contains(id, "-") {
		return id + "@g.us"
	}
	return id + "@s.whatsapp.net"
}

// NormalizeJIDs expands a batch of ids.
func NormalizeJIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, NormalizeJID(id))
	}
	return out
}

// IsGroupJID reports whether an id belongs to the group domain.
func IsGroupJID(id string) bool {
	return strings.HasSuffix(id, "@g.us")
}
