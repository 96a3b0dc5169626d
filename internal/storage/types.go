package storage

import (
	"perepiska/internal/models"
)

const (
	CollectionUsers          = "users"
	CollectionFriendRequests = "friend_requests"
	CollectionGroups         = "groups"

	FieldEmail       = "email"
	FieldDisplayName = "displayName"
	FieldPresence    = "presence"
	FieldLastSeen    = "lastSeen"
	FieldFriends     = "friends"
	FieldFrom        = "from"
	FieldTo          = "to"
	FieldStatus      = "status"
	FieldName        = "name"
	FieldMembers     = "members"
	FieldAdminID     = "adminId"
	FieldDescription = "description"
	FieldAvatarURL   = "avatarUrl"
	FieldCreatedAt   = "createdAt"
	FieldEdited      = "edited"
)

// MessagesCollection is the message substream of one conversation.
func MessagesCollection(conversationKey string) string {
	return "messages/" + conversationKey
}

// DBProfile is the part of a user record mirrored from the identity provider.
// It has no friends field so a merge upsert never touches the friend set, and empty
// fields are left out so a merge keeps what is stored for them.
type DBProfile struct {
	DisplayName string `msgpack:"displayName,omitempty"`
	Email       string `msgpack:"email,omitempty"`
	AvatarURL   string `msgpack:"avatarUrl,omitempty"`
	Presence    string `msgpack:"presence,omitempty"`
	LastSeen    int64  `msgpack:"lastSeen,omitempty"`
}

type DBUser struct {
	DBProfile `msgpack:",inline"`
	Friends   []DBFriendEdge `msgpack:"friends"`
}

type DBFriendEdge struct {
	PeerID      string `msgpack:"peerId"`
	DisplayName string `msgpack:"displayName"`
	AvatarURL   string `msgpack:"avatarUrl"`
	Since       int64  `msgpack:"since"`
}

type DBFriendRequest struct {
	From            string `msgpack:"from"`
	To              string `msgpack:"to"`
	FromDisplayName string `msgpack:"fromDisplayName"`
	FromAvatarURL   string `msgpack:"fromAvatarUrl"`
	Status          string `msgpack:"status"`
	CreatedAt       int64  `msgpack:"createdAt"`
}

type DBGroup struct {
	Name        string   `msgpack:"name"`
	Members     []string `msgpack:"members"`
	AdminID     string   `msgpack:"adminId"`
	CreatedAt   int64    `msgpack:"createdAt"`
	Description string   `msgpack:"description"`
	AvatarURL   string   `msgpack:"avatarUrl"`
}

type DBMessage struct {
	Text            string `msgpack:"text"`
	AuthorID        string `msgpack:"authorId"`
	AuthorName      string `msgpack:"authorName"`
	AuthorAvatarURL string `msgpack:"authorAvatarUrl"`
	CreatedAt       int64  `msgpack:"createdAt"`
	Edited          bool   `msgpack:"edited"`
}

func ProfileFields(u models.User) (Fields, error) {
	return Encode(DBProfile{
		DisplayName: u.DisplayName,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		Presence:    string(u.Presence),
		LastSeen:    u.LastSeen,
	})
}

func UserFromDoc(doc Document) (models.User, error) {
	var dbUser DBUser
	if err := doc.Decode(&dbUser); err != nil {
		return models.User{}, err
	}
	user := models.User{
		ID:          doc.ID,
		DisplayName: dbUser.DisplayName,
		Email:       dbUser.Email,
		AvatarURL:   dbUser.AvatarURL,
		Presence:    models.Presence(dbUser.Presence),
		LastSeen:    dbUser.LastSeen,
	}
	if len(dbUser.Friends) > 0 {
		user.Friends = make([]models.FriendEdge, len(dbUser.Friends))
		for i, f := range dbUser.Friends {
			user.Friends[i] = models.FriendEdge{
				PeerID:      f.PeerID,
				DisplayName: f.DisplayName,
				AvatarURL:   f.AvatarURL,
				Since:       f.Since,
			}
		}
	}
	return user, nil
}

// EdgeValue is the array element stored in a user's friend set.
// Removing an edge needs the exact value it was appended with.
func EdgeValue(e models.FriendEdge) (Fields, error) {
	return Encode(DBFriendEdge{
		PeerID:      e.PeerID,
		DisplayName: e.DisplayName,
		AvatarURL:   e.AvatarURL,
		Since:       e.Since,
	})
}

func RequestFields(r models.FriendRequest) (Fields, error) {
	fields, err := Encode(DBFriendRequest{
		From:            r.From,
		To:              r.To,
		FromDisplayName: r.FromDisplayName,
		FromAvatarURL:   r.FromAvatarURL,
		Status:          string(r.Status),
	})
	if err != nil {
		return nil, err
	}
	fields[FieldCreatedAt] = ServerTimestamp
	return fields, nil
}

func RequestFromDoc(doc Document) (models.FriendRequest, error) {
	var r DBFriendRequest
	if err := doc.Decode(&r); err != nil {
		return models.FriendRequest{}, err
	}
	return models.FriendRequest{
		ID:              doc.ID,
		From:            r.From,
		To:              r.To,
		FromDisplayName: r.FromDisplayName,
		FromAvatarURL:   r.FromAvatarURL,
		Status:          models.RequestStatus(r.Status),
		CreatedAt:       r.CreatedAt,
	}, nil
}

func GroupFields(g models.Group) (Fields, error) {
	fields, err := Encode(DBGroup{
		Name:        g.Name,
		Members:     g.Members,
		AdminID:     g.AdminID,
		Description: g.Description,
		AvatarURL:   g.AvatarURL,
	})
	if err != nil {
		return nil, err
	}
	fields[FieldCreatedAt] = ServerTimestamp
	return fields, nil
}

func GroupFromDoc(doc Document) (models.Group, error) {
	var g DBGroup
	if err := doc.Decode(&g); err != nil {
		return models.Group{}, err
	}
	return models.Group{
		ID:          doc.ID,
		Name:        g.Name,
		Members:     g.Members,
		AdminID:     g.AdminID,
		CreatedAt:   g.CreatedAt,
		Description: g.Description,
		AvatarURL:   g.AvatarURL,
	}, nil
}

func MessageFields(m models.Message) (Fields, error) {
	fields, err := Encode(DBMessage{
		Text:            m.Text,
		AuthorID:        m.AuthorID,
		AuthorName:      m.AuthorName,
		AuthorAvatarURL: m.AuthorAvatarURL,
		Edited:          m.Edited,
	})
	if err != nil {
		return nil, err
	}
	fields[FieldCreatedAt] = ServerTimestamp
	return fields, nil
}

func MessageFromDoc(conversationKey string, doc Document) (models.Message, error) {
	var m DBMessage
	if err := doc.Decode(&m); err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:              doc.ID,
		ConversationKey: conversationKey,
		Text:            m.Text,
		AuthorID:        m.AuthorID,
		AuthorName:      m.AuthorName,
		AuthorAvatarURL: m.AuthorAvatarURL,
		CreatedAt:       m.CreatedAt,
		Edited:          m.Edited,
	}, nil
}

// MessagesQuery is the window of the most recent limit messages, oldest first.
func MessagesQuery(conversationKey string, limit int) Query {
	return Query{
		Collection:  MessagesCollection(conversationKey),
		Order:       Order{Field: FieldCreatedAt},
		Limit:       limit,
		LimitToLast: true,
	}
}
