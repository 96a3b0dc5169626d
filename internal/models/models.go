package models

// Presence is the availability status a user advertises to friends.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
	PresenceAway    Presence = "away"
	PresenceBusy    Presence = "busy"
)

func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceOffline, PresenceAway, PresenceBusy:
		return true
	}
	return false
}

// User represents a user in the system.
type User struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Email       string       `json:"email,omitempty"`
	AvatarURL   string       `json:"avatarUrl,omitempty"`
	Presence    Presence     `json:"presence"`
	LastSeen    int64        `json:"lastSeen"` // Unix timestamp (milliseconds)
	Friends     []FriendEdge `json:"friends,omitempty"`
}

// HasFriend reports whether the user's friend set holds an edge to peerID.
func (u User) HasFriend(peerID string) bool {
	_, ok := u.Friend(peerID)
	return ok
}

func (u User) Friend(peerID string) (FriendEdge, bool) {
	for _, f := range u.Friends {
		if f.PeerID == peerID {
			return f, true
		}
	}
	return FriendEdge{}, false
}

// FriendEdge is a denormalized snapshot of a peer, embedded into the owner's record.
// It is not refreshed when the peer changes their name or avatar.
type FriendEdge struct {
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Since       int64  `json:"since"`
}

type RequestStatus string

const (
	RequestStatusPending RequestStatus = "pending"
)

// FriendRequest lives until it is accepted or rejected; both delete it.
type FriendRequest struct {
	ID              string        `json:"id"`
	From            string        `json:"from"`
	To              string        `json:"to"`
	FromDisplayName string        `json:"fromDisplayName"`
	FromAvatarURL   string        `json:"fromAvatarUrl,omitempty"`
	Status          RequestStatus `json:"status"`
	CreatedAt       int64         `json:"createdAt"`
}

// Group is an explicit conversation document. AdminID is always one of Members.
type Group struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Members     []string `json:"members"`
	AdminID     string   `json:"adminId"`
	CreatedAt   int64    `json:"createdAt"`
	Description string   `json:"description,omitempty"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`

	// Unread is filled in from the unread tracker when the group list is emitted.
	Unread int `json:"unread"`
}

func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Message represents a chat message.
type Message struct {
	ID              string `json:"id"`
	ConversationKey string `json:"conversation"`
	Text            string `json:"text"`
	HTML            string `json:"html,omitempty"`
	AuthorID        string `json:"authorId"`
	AuthorName      string `json:"authorName"`
	AuthorAvatarURL string `json:"authorAvatarUrl,omitempty"`
	CreatedAt       int64  `json:"createdAt"` // server assigned, monotonic per conversation
	Edited          bool   `json:"edited,omitempty"`
}

// Peer references the other side of a conversation: a user for direct chats
// or a group. Exactly one of the fields is set.
type Peer struct {
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

func (p Peer) IsGroup() bool {
	return p.GroupID != ""
}

func (p Peer) Empty() bool {
	return p.UserID == "" && p.GroupID == ""
}

// CallRoom is what the external call widget needs to join a room.
type CallRoom struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// APIResponse is the body of HTTP replies that carry no other payload.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
