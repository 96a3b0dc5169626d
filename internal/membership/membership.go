// Package membership performs friend, group and presence mutations on behalf of a user.
// Permission checks happen here, against state read right before the write. Nothing
// is transactional: multi-step operations report which step failed.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"perepiska/internal/content"
	"perepiska/internal/models"
	"perepiska/internal/storage"

	"github.com/c-pro/geche"
)

const (
	StepSenderEdge    = "sender_edge"
	StepDeleteRequest = "delete_request"

	DefaultEmailCacheTTL = time.Minute
)

type Coordinator struct {
	store  storage.DocumentStore
	emails geche.Geche[string, string]
	now    func() time.Time
	logger *slog.Logger
}

func New(ctx context.Context, store storage.DocumentStore, emailCacheTTL time.Duration) *Coordinator {
	if emailCacheTTL <= 0 {
		emailCacheTTL = DefaultEmailCacheTTL
	}
	return &Coordinator{
		store:  store,
		emails: geche.NewMapTTLCache[string, string](ctx, emailCacheTTL, emailCacheTTL),
		now:    time.Now,
		logger: slog.Default().With("component", "membership"),
	}
}

// Register mirrors the identity provider's profile into the user's record and marks
// the user online, unless another session already set them away or busy. Profile fields
// the provider left empty and the friend set are never touched.
func (c *Coordinator) Register(ctx context.Context, user models.User) error {
	if user.ID == "" {
		return models.NewValidationError("user id is required")
	}
	user.Email = normalizeEmail(user.Email)
	user.DisplayName = content.Plain(user.DisplayName)
	user.Presence = ""

	current, err := c.getUser(ctx, user.ID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		user.Presence = models.PresenceOnline
	case err != nil:
		return fmt.Errorf("failed to register user: %w", err)
	case current.Presence != models.PresenceAway && current.Presence != models.PresenceBusy:
		user.Presence = models.PresenceOnline
	}

	fields, err := storage.ProfileFields(user)
	if err != nil {
		return err
	}
	fields[storage.FieldLastSeen] = storage.ServerTimestamp
	if err := c.store.Upsert(ctx, storage.CollectionUsers, user.ID, fields, storage.Merge); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	if user.Email != "" {
		c.emails.Set(user.Email, user.ID)
	}
	return nil
}

// SetPresence updates the user's presence. Going offline also stamps last-seen.
func (c *Coordinator) SetPresence(ctx context.Context, userID string, presence models.Presence) error {
	if !presence.Valid() {
		return models.NewValidationError("unknown presence %q", presence)
	}
	fields := storage.Fields{storage.FieldPresence: string(presence)}
	if presence == models.PresenceOffline {
		fields[storage.FieldLastSeen] = storage.ServerTimestamp
	}
	if err := c.store.Upsert(ctx, storage.CollectionUsers, userID, fields, storage.Merge); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// User returns the stored record of userID, friend set included.
func (c *Coordinator) User(ctx context.Context, userID string) (models.User, error) {
	return c.getUser(ctx, userID)
}

func (c *Coordinator) getUser(ctx context.Context, id string) (models.User, error) {
	doc, err := c.store.Get(ctx, storage.DocRef{Collection: storage.CollectionUsers, ID: id})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.User{}, &models.NotFoundError{What: "user", Key: id}
		}
		return models.User{}, err
	}
	return storage.UserFromDoc(doc)
}

// SearchUserByEmail finds a user by exact email, case-insensitively.
// The friend set of the result is not disclosed.
func (c *Coordinator) SearchUserByEmail(ctx context.Context, email string) (models.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return models.User{}, models.NewValidationError("email is required")
	}

	if id, err := c.emails.Get(email); err == nil {
		user, err := c.getUser(ctx, id)
		if err == nil && user.Email == email {
			user.Friends = nil
			return user, nil
		}
		_ = c.emails.Del(email)
	}

	snap, err := c.store.Query(ctx, storage.Query{
		Collection: storage.CollectionUsers,
		Filters:    []storage.Filter{storage.Eq(storage.FieldEmail, email)},
		Limit:      1,
	})
	if err != nil {
		return models.User{}, err
	}
	if len(snap.Docs) == 0 {
		return models.User{}, &models.NotFoundError{What: "user", Key: email}
	}
	user, err := storage.UserFromDoc(snap.Docs[0])
	if err != nil {
		return models.User{}, err
	}
	c.emails.Set(email, user.ID)
	user.Friends = nil
	return user, nil
}

// SendFriendRequest creates a pending request from sender to the user toID.
func (c *Coordinator) SendFriendRequest(ctx context.Context, from models.User, toID string) (string, error) {
	if toID == "" {
		return "", models.NewValidationError("recipient is required")
	}
	if toID == from.ID {
		return "", models.NewValidationError("cannot send a friend request to yourself")
	}

	sender, err := c.getUser(ctx, from.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return "", err
	}
	if sender.HasFriend(toID) {
		return "", models.NewValidationError("already friends")
	}
	if _, err := c.getUser(ctx, toID); err != nil {
		return "", err
	}

	pending, err := c.store.Query(ctx, storage.Query{
		Collection: storage.CollectionFriendRequests,
		Filters: []storage.Filter{
			storage.Eq(storage.FieldFrom, from.ID),
			storage.Eq(storage.FieldTo, toID),
			storage.Eq(storage.FieldStatus, models.RequestStatusPending),
		},
		Limit: 1,
	})
	if err != nil {
		return "", err
	}
	if len(pending.Docs) > 0 {
		return "", models.NewValidationError("friend request already sent")
	}

	fields, err := storage.RequestFields(models.FriendRequest{
		From:            from.ID,
		To:              toID,
		FromDisplayName: from.DisplayName,
		FromAvatarURL:   from.AvatarURL,
		Status:          models.RequestStatusPending,
	})
	if err != nil {
		return "", err
	}
	id, err := c.store.Create(ctx, storage.CollectionFriendRequests, fields)
	if err != nil {
		return "", fmt.Errorf("failed to create friend request: %w", err)
	}
	c.logger.Info("friend request sent", "user_id", from.ID, "to", toID, "request_id", id)
	return id, nil
}

func (c *Coordinator) getRequest(ctx context.Context, self models.User, requestID string) (models.FriendRequest, error) {
	if requestID == "" {
		return models.FriendRequest{}, models.NewValidationError("request id is required")
	}
	doc, err := c.store.Get(ctx, storage.DocRef{Collection: storage.CollectionFriendRequests, ID: requestID})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.FriendRequest{}, &models.NotFoundError{What: "friend request", Key: requestID}
		}
		return models.FriendRequest{}, err
	}
	r, err := storage.RequestFromDoc(doc)
	if err != nil {
		return models.FriendRequest{}, err
	}
	if r.To != self.ID {
		return models.FriendRequest{}, models.NewValidationError("friend request is not addressed to you")
	}
	return r, nil
}

// AcceptFriendRequest writes the edge into the recipient's set, then into the sender's
// set, then deletes the request. A failure after the first write leaves the pair
// asymmetric or the request behind and is reported as a PartialMutationError.
func (c *Coordinator) AcceptFriendRequest(ctx context.Context, self models.User, requestID string) error {
	r, err := c.getRequest(ctx, self, requestID)
	if err != nil {
		return err
	}

	since := c.now().UnixMilli()
	toSender, err := storage.EdgeValue(models.FriendEdge{
		PeerID:      r.From,
		DisplayName: r.FromDisplayName,
		AvatarURL:   r.FromAvatarURL,
		Since:       since,
	})
	if err != nil {
		return err
	}
	toRecipient, err := storage.EdgeValue(models.FriendEdge{
		PeerID:      self.ID,
		DisplayName: self.DisplayName,
		AvatarURL:   self.AvatarURL,
		Since:       since,
	})
	if err != nil {
		return err
	}

	recipient, err := c.getUser(ctx, self.ID)
	if err != nil {
		return err
	}
	if !recipient.HasFriend(r.From) {
		ref := storage.DocRef{Collection: storage.CollectionUsers, ID: self.ID}
		if err := c.store.Update(ctx, ref, storage.AppendToSet(storage.FieldFriends, toSender)); err != nil {
			return fmt.Errorf("failed to accept friend request: %w", err)
		}
	}

	sender, err := c.getUser(ctx, r.From)
	if err != nil {
		return c.partial(StepSenderEdge, requestID, err)
	}
	if !sender.HasFriend(self.ID) {
		ref := storage.DocRef{Collection: storage.CollectionUsers, ID: r.From}
		if err := c.store.Update(ctx, ref, storage.AppendToSet(storage.FieldFriends, toRecipient)); err != nil {
			return c.partial(StepSenderEdge, requestID, err)
		}
	}

	ref := storage.DocRef{Collection: storage.CollectionFriendRequests, ID: requestID}
	if err := c.store.Delete(ctx, ref); err != nil {
		return c.partial(StepDeleteRequest, requestID, err)
	}
	c.logger.Info("friend request accepted", "user_id", self.ID, "from", r.From, "request_id", requestID)
	return nil
}

func (c *Coordinator) partial(step, requestID string, err error) error {
	c.logger.Error("friend request accepted partially", "step", step, "request_id", requestID, "error", err)
	return &models.PartialMutationError{Step: step, RequestID: requestID, Err: err}
}

// RejectFriendRequest deletes a request addressed to self.
func (c *Coordinator) RejectFriendRequest(ctx context.Context, self models.User, requestID string) error {
	if _, err := c.getRequest(ctx, self, requestID); err != nil {
		return err
	}
	ref := storage.DocRef{Collection: storage.CollectionFriendRequests, ID: requestID}
	if err := c.store.Delete(ctx, ref); err != nil {
		return fmt.Errorf("failed to reject friend request: %w", err)
	}
	return nil
}

// RemoveFriend removes the edge to peerID from the caller's own set only.
func (c *Coordinator) RemoveFriend(ctx context.Context, selfID, peerID string) error {
	if peerID == "" {
		return models.NewValidationError("friend is required")
	}
	user, err := c.getUser(ctx, selfID)
	if err != nil {
		return err
	}
	edge, ok := user.Friend(peerID)
	if !ok {
		return &models.NotFoundError{What: "friend", Key: peerID}
	}
	value, err := storage.EdgeValue(edge)
	if err != nil {
		return err
	}
	ref := storage.DocRef{Collection: storage.CollectionUsers, ID: selfID}
	if err := c.store.Update(ctx, ref, storage.RemoveFromSet(storage.FieldFriends, value)); err != nil {
		return fmt.Errorf("failed to remove friend: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
