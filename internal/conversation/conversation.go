// Package conversation derives the canonical key of a conversation's message stream.
package conversation

import "perepiska/internal/models"

// Separator joins the two user ids of a direct conversation key.
const Separator = "_"

// Key returns the conversation key selfID shares with peer.
// Groups are keyed by their own id; direct conversations by the sorted pair of user ids,
// so both participants arrive at the same key without talking to each other.
func Key(selfID string, peer models.Peer) string {
	if peer.IsGroup() {
		return peer.GroupID
	}
	return Direct(selfID, peer.UserID)
}

// Direct returns the key of the one-to-one conversation between a and b.
func Direct(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}
