package engine

import (
	"context"

	"perepiska/internal/membership"
	"perepiska/internal/models"
)

// SelectConversation focuses the conversation with peer. Group conversations are
// only open to members.
func (e *Engine) SelectConversation(ctx context.Context, peer models.Peer) (string, error) {
	if peer.IsGroup() {
		if _, err := e.members.Group(ctx, e.self.ID, peer.GroupID); err != nil {
			return "", err
		}
	}
	return e.session.Select(ctx, peer)
}

func (e *Engine) LeaveConversation() {
	e.session.Leave()
}

// SendMessage posts to the focused conversation. Group membership is re-checked, since
// the removal may not have reached this client yet.
func (e *Engine) SendMessage(ctx context.Context, requestID, text string) error {
	if peer := e.session.Peer(); peer.IsGroup() {
		if _, err := e.members.Group(ctx, e.self.ID, peer.GroupID); err != nil {
			return err
		}
	}
	return e.session.Send(ctx, requestID, text)
}

func (e *Engine) DeleteMessage(ctx context.Context, id string) error {
	return e.session.DeleteMessage(ctx, id)
}

func (e *Engine) Scroll(distanceFromBottom int) {
	e.session.Scroll(distanceFromBottom)
}

func (e *Engine) SearchUserByEmail(ctx context.Context, email string) (models.User, error) {
	return e.members.SearchUserByEmail(ctx, email)
}

func (e *Engine) SendFriendRequest(ctx context.Context, userID string) (string, error) {
	return e.members.SendFriendRequest(ctx, e.self, userID)
}

func (e *Engine) AcceptFriendRequest(ctx context.Context, requestID string) error {
	return e.members.AcceptFriendRequest(ctx, e.self, requestID)
}

func (e *Engine) RejectFriendRequest(ctx context.Context, requestID string) error {
	return e.members.RejectFriendRequest(ctx, e.self, requestID)
}

// RemoveFriend drops the caller's edge to peerID and closes the conversation with
// them if it is the focused one.
func (e *Engine) RemoveFriend(ctx context.Context, peerID string) error {
	if err := e.members.RemoveFriend(ctx, e.self.ID, peerID); err != nil {
		return err
	}
	e.leaveIf(models.Peer{UserID: peerID})
	return nil
}

func (e *Engine) CreateGroup(ctx context.Context, name string) (models.Group, error) {
	return e.members.CreateGroup(ctx, e.self.ID, name)
}

func (e *Engine) AddMember(ctx context.Context, groupID, userID string) error {
	return e.members.AddMember(ctx, e.self.ID, groupID, userID)
}

func (e *Engine) RemoveMember(ctx context.Context, groupID, userID string) error {
	return e.members.RemoveMember(ctx, e.self.ID, groupID, userID)
}

func (e *Engine) TransferAdmin(ctx context.Context, groupID, userID string) error {
	return e.members.TransferAdmin(ctx, e.self.ID, groupID, userID)
}

func (e *Engine) UpdateGroup(ctx context.Context, groupID string, update membership.GroupUpdate) error {
	return e.members.UpdateGroup(ctx, e.self.ID, groupID, update)
}

func (e *Engine) LeaveGroup(ctx context.Context, groupID string) error {
	if err := e.members.LeaveGroup(ctx, e.self.ID, groupID); err != nil {
		return err
	}
	e.leaveIf(models.Peer{GroupID: groupID})
	return nil
}

func (e *Engine) DeleteGroup(ctx context.Context, groupID string) error {
	if err := e.members.DeleteGroup(ctx, e.self.ID, groupID); err != nil {
		return err
	}
	e.leaveIf(models.Peer{GroupID: groupID})
	return nil
}

func (e *Engine) SetPresence(ctx context.Context, presence models.Presence) error {
	return e.members.SetPresence(ctx, e.self.ID, presence)
}

// StartCall hands out the call room of the focused conversation and marks the user busy.
func (e *Engine) StartCall(ctx context.Context) (models.CallRoom, error) {
	room, err := e.session.CallRoom()
	if err != nil {
		return models.CallRoom{}, err
	}
	if err := e.members.SetPresence(ctx, e.self.ID, models.PresenceBusy); err != nil {
		return models.CallRoom{}, err
	}
	e.mu.Lock()
	e.inCall = true
	e.mu.Unlock()
	return room, nil
}

// CallLeft is the call widget's leave notification. It flips presence back to online.
func (e *Engine) CallLeft(ctx context.Context) error {
	e.mu.Lock()
	inCall := e.inCall
	e.inCall = false
	e.mu.Unlock()

	if !inCall {
		return nil
	}
	return e.members.SetPresence(ctx, e.self.ID, models.PresenceOnline)
}

func (e *Engine) leaveIf(peer models.Peer) {
	if e.session.Peer() == peer {
		e.session.Leave()
	}
}

// Handle runs one client frame and answers with an ack, a result or an error frame.
func (e *Engine) Handle(ctx context.Context, msg models.ClientMessage) {
	var (
		data any
		err  error
	)

	switch msg.Type {
	case models.ClientMessageTypeSelect:
		var key string
		if key, err = e.SelectConversation(ctx, msg.Peer); err == nil {
			data = key
		}
	case models.ClientMessageTypeLeave:
		e.LeaveConversation()
	case models.ClientMessageTypeSend:
		// Acked once the message is stored.
		if err = e.SendMessage(ctx, msg.RequestID, msg.Text); err == nil {
			return
		}
	case models.ClientMessageTypeDelete:
		err = e.DeleteMessage(ctx, msg.MessageID)
	case models.ClientMessageTypeScroll:
		e.Scroll(msg.DistanceFromBottom)
		return
	case models.ClientMessageTypeSearch:
		var user models.User
		if user, err = e.SearchUserByEmail(ctx, msg.Email); err == nil {
			e.emit(models.ServerMessage{Type: models.ServerMessageTypeSearchResult, RequestID: msg.RequestID, Data: user})
			return
		}
	case models.ClientMessageTypeFriendRequest:
		var id string
		if id, err = e.SendFriendRequest(ctx, msg.UserID); err == nil {
			data = id
		}
	case models.ClientMessageTypeAccept:
		err = e.AcceptFriendRequest(ctx, msg.FriendRequestID)
	case models.ClientMessageTypeReject:
		err = e.RejectFriendRequest(ctx, msg.FriendRequestID)
	case models.ClientMessageTypeRemoveFriend:
		err = e.RemoveFriend(ctx, msg.UserID)
	case models.ClientMessageTypeCreateGroup:
		var g models.Group
		if g, err = e.CreateGroup(ctx, msg.Name); err == nil {
			data = g
		}
	case models.ClientMessageTypeAddMember:
		err = e.AddMember(ctx, msg.GroupID, msg.UserID)
	case models.ClientMessageTypeRemoveMember:
		err = e.RemoveMember(ctx, msg.GroupID, msg.UserID)
	case models.ClientMessageTypeTransferAdmin:
		err = e.TransferAdmin(ctx, msg.GroupID, msg.UserID)
	case models.ClientMessageTypeLeaveGroup:
		err = e.LeaveGroup(ctx, msg.GroupID)
	case models.ClientMessageTypeDeleteGroup:
		err = e.DeleteGroup(ctx, msg.GroupID)
	case models.ClientMessageTypeUpdateGroup:
		err = e.UpdateGroup(ctx, msg.GroupID, membership.GroupUpdate{
			Name:        msg.Name,
			Description: msg.Description,
			AvatarURL:   msg.AvatarURL,
		})
	case models.ClientMessageTypePresence:
		err = e.SetPresence(ctx, msg.Presence)
	case models.ClientMessageTypeCallStart:
		var room models.CallRoom
		if room, err = e.StartCall(ctx); err == nil {
			e.emit(models.ServerMessage{Type: models.ServerMessageTypeCall, RequestID: msg.RequestID, Conversation: room.RoomID, Data: room})
			return
		}
	case models.ClientMessageTypeCallLeave:
		err = e.CallLeft(ctx)
	default:
		err = models.NewValidationError("unknown message type %q", msg.Type)
	}

	if err != nil {
		e.fail(msg.RequestID, err)
		return
	}
	e.ack(msg.RequestID, data)
}
