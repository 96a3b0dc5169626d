package models

// ClientMessage represents a message sent from the client to the server.
type ClientMessage struct {
	Type      ClientMessageType `json:"type"`
	RequestID string            `json:"requestId,omitempty"`

	Peer      Peer   `json:"peer"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	// FriendRequestID names the request answered by accept_request and reject_request.
	FriendRequestID string   `json:"friendRequestId,omitempty"`
	Email           string   `json:"email,omitempty"`
	UserID          string   `json:"userId,omitempty"`
	GroupID         string   `json:"groupId,omitempty"`
	Name            string   `json:"name,omitempty"`
	Description     string   `json:"description,omitempty"`
	AvatarURL       string   `json:"avatarUrl,omitempty"`
	Presence        Presence `json:"presence,omitempty"`

	// DistanceFromBottom is the viewport offset reported with scroll frames.
	DistanceFromBottom int `json:"distanceFromBottom,omitempty"`
}

// ServerMessage represents a message to the client.
type ServerMessage struct {
	Type           ServerMessageType `json:"type"`
	RequestID      string            `json:"requestId,omitempty"`
	Conversation   string            `json:"conversation,omitempty"`
	Data           any               `json:"data,omitempty"`
	ScrollToBottom bool              `json:"scrollToBottom,omitempty"`
	Count          int               `json:"count,omitempty"`
	Error          *ErrorPayload     `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorPayload(err error) *ErrorPayload {
	return &ErrorPayload{Code: ErrorCode(err), Message: err.Error()}
}

type ClientMessageType string

const (
	ClientMessageTypeSelect        ClientMessageType = "select"
	ClientMessageTypeLeave         ClientMessageType = "leave"
	ClientMessageTypeSend          ClientMessageType = "send"
	ClientMessageTypeDelete        ClientMessageType = "delete"
	ClientMessageTypeScroll        ClientMessageType = "scroll"
	ClientMessageTypeSearch        ClientMessageType = "search"
	ClientMessageTypeFriendRequest ClientMessageType = "friend_request"
	ClientMessageTypeAccept        ClientMessageType = "accept_request"
	ClientMessageTypeReject        ClientMessageType = "reject_request"
	ClientMessageTypeRemoveFriend  ClientMessageType = "remove_friend"
	ClientMessageTypeCreateGroup   ClientMessageType = "create_group"
	ClientMessageTypeAddMember     ClientMessageType = "add_member"
	ClientMessageTypeRemoveMember  ClientMessageType = "remove_member"
	ClientMessageTypeTransferAdmin ClientMessageType = "transfer_admin"
	ClientMessageTypeLeaveGroup    ClientMessageType = "leave_group"
	ClientMessageTypeDeleteGroup   ClientMessageType = "delete_group"
	ClientMessageTypeUpdateGroup   ClientMessageType = "update_group"
	ClientMessageTypePresence      ClientMessageType = "presence"
	ClientMessageTypeCallStart     ClientMessageType = "call_start"
	ClientMessageTypeCallLeave     ClientMessageType = "call_leave"
)

type ServerMessageType string

const (
	ServerMessageTypeFriends      ServerMessageType = "friends"
	ServerMessageTypeRequests     ServerMessageType = "requests"
	ServerMessageTypeGroups       ServerMessageType = "groups"
	ServerMessageTypeMessages     ServerMessageType = "messages"
	ServerMessageTypeUnread       ServerMessageType = "unread"
	ServerMessageTypeDraft        ServerMessageType = "draft"
	ServerMessageTypeSearchResult ServerMessageType = "search_result"
	ServerMessageTypeCall         ServerMessageType = "call"
	ServerMessageTypeAck          ServerMessageType = "ack"
	ServerMessageTypeError        ServerMessageType = "error"
	ServerMessageTypeFault        ServerMessageType = "fault"
	ServerMessageTypeRevoked      ServerMessageType = "revoked"
)
