package membership

import (
	"context"
	"errors"
	"fmt"

	"perepiska/internal/content"
	"perepiska/internal/models"
	"perepiska/internal/storage"
)

// GroupUpdate carries the group details to change. Empty fields are left as they are.
type GroupUpdate struct {
	Name        string
	Description string
	AvatarURL   string
}

// CreateGroup creates a group whose only member and admin is the creator.
func (c *Coordinator) CreateGroup(ctx context.Context, creatorID, name string) (models.Group, error) {
	if err := content.ValidateGroupName(name); err != nil {
		return models.Group{}, &models.ValidationError{Reason: err.Error()}
	}
	g := models.Group{
		Name:    content.Plain(name),
		Members: []string{creatorID},
		AdminID: creatorID,
	}
	fields, err := storage.GroupFields(g)
	if err != nil {
		return models.Group{}, err
	}
	id, err := c.store.Create(ctx, storage.CollectionGroups, fields)
	if err != nil {
		return models.Group{}, fmt.Errorf("failed to create group: %w", err)
	}
	g.ID = id
	c.logger.Info("group created", "user_id", creatorID, "group_id", id)
	return g, nil
}

// Group returns the group if userID is one of its members.
func (c *Coordinator) Group(ctx context.Context, userID, groupID string) (models.Group, error) {
	g, err := c.getGroup(ctx, groupID)
	if err != nil {
		return models.Group{}, err
	}
	if !g.HasMember(userID) {
		return models.Group{}, &models.NotFoundError{What: "group", Key: groupID}
	}
	return g, nil
}

func (c *Coordinator) getGroup(ctx context.Context, groupID string) (models.Group, error) {
	if groupID == "" {
		return models.Group{}, models.NewValidationError("group id is required")
	}
	doc, err := c.store.Get(ctx, groupRef(groupID))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Group{}, &models.NotFoundError{What: "group", Key: groupID}
		}
		return models.Group{}, err
	}
	return storage.GroupFromDoc(doc)
}

func (c *Coordinator) adminGroup(ctx context.Context, callerID, groupID string) (models.Group, error) {
	g, err := c.getGroup(ctx, groupID)
	if err != nil {
		return models.Group{}, err
	}
	if g.AdminID != callerID {
		return models.Group{}, models.NewValidationError("only the group admin can do this")
	}
	return g, nil
}

// AddMember adds an existing user to the group. Only the admin may add members.
func (c *Coordinator) AddMember(ctx context.Context, callerID, groupID, userID string) error {
	if userID == "" {
		return models.NewValidationError("member is required")
	}
	g, err := c.adminGroup(ctx, callerID, groupID)
	if err != nil {
		return err
	}
	if g.HasMember(userID) {
		return models.NewValidationError("already a member")
	}
	if _, err := c.getUser(ctx, userID); err != nil {
		return err
	}
	if err := c.store.Update(ctx, groupRef(groupID), storage.AppendToSet(storage.FieldMembers, userID)); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember removes a member other than the admin. Only the admin may remove members.
func (c *Coordinator) RemoveMember(ctx context.Context, callerID, groupID, userID string) error {
	g, err := c.adminGroup(ctx, callerID, groupID)
	if err != nil {
		return err
	}
	if userID == g.AdminID {
		return models.NewValidationError("cannot remove the group admin")
	}
	if !g.HasMember(userID) {
		return &models.NotFoundError{What: "member", Key: userID}
	}
	if err := c.store.Update(ctx, groupRef(groupID), storage.RemoveFromSet(storage.FieldMembers, userID)); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// TransferAdmin hands the admin role to another member.
func (c *Coordinator) TransferAdmin(ctx context.Context, callerID, groupID, userID string) error {
	g, err := c.adminGroup(ctx, callerID, groupID)
	if err != nil {
		return err
	}
	if !g.HasMember(userID) {
		return models.NewValidationError("the new admin must be a member")
	}
	if userID == g.AdminID {
		return nil
	}
	if err := c.store.Update(ctx, groupRef(groupID), storage.Set(storage.FieldAdminID, userID)); err != nil {
		return fmt.Errorf("failed to transfer admin: %w", err)
	}
	return nil
}

// LeaveGroup removes the caller from the group. An admin has to transfer the role
// first, unless they are the last member, in which case the group is deleted.
func (c *Coordinator) LeaveGroup(ctx context.Context, userID, groupID string) error {
	g, err := c.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.HasMember(userID) {
		return models.NewValidationError("not a member of this group")
	}
	if g.AdminID == userID {
		if len(g.Members) > 1 {
			return models.NewValidationError("transfer the admin role before leaving")
		}
		return c.DeleteGroup(ctx, userID, groupID)
	}
	if err := c.store.Update(ctx, groupRef(groupID), storage.RemoveFromSet(storage.FieldMembers, userID)); err != nil {
		return fmt.Errorf("failed to leave group: %w", err)
	}
	return nil
}

// UpdateGroup changes the name, description or avatar of a group.
func (c *Coordinator) UpdateGroup(ctx context.Context, callerID, groupID string, update GroupUpdate) error {
	var mutations []storage.Mutation
	if update.Name != "" {
		if err := content.ValidateGroupName(update.Name); err != nil {
			return &models.ValidationError{Reason: err.Error()}
		}
		mutations = append(mutations, storage.Set(storage.FieldName, content.Plain(update.Name)))
	}
	if update.Description != "" {
		mutations = append(mutations, storage.Set(storage.FieldDescription, content.Plain(update.Description)))
	}
	if update.AvatarURL != "" {
		mutations = append(mutations, storage.Set(storage.FieldAvatarURL, update.AvatarURL))
	}
	if len(mutations) == 0 {
		return models.NewValidationError("nothing to update")
	}

	if _, err := c.adminGroup(ctx, callerID, groupID); err != nil {
		return err
	}
	if err := c.store.Update(ctx, groupRef(groupID), mutations...); err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	return nil
}

// DeleteGroup deletes the group document. The caller's admin role is not re-checked
// here; clients only offer deletion to the admin.
func (c *Coordinator) DeleteGroup(ctx context.Context, callerID, groupID string) error {
	if groupID == "" {
		return models.NewValidationError("group id is required")
	}
	if err := c.store.Delete(ctx, groupRef(groupID)); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	c.logger.Info("group deleted", "user_id", callerID, "group_id", groupID)
	return nil
}

func groupRef(id string) storage.DocRef {
	return storage.DocRef{Collection: storage.CollectionGroups, ID: id}
}
