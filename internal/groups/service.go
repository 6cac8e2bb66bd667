// Package groups implements private strategy-sharing groups with encrypted
// messaging. Messages are sealed before they reach the database and only
// decrypted for members.
package groups

import (
	"context"
	"crypto/rand"
	"fmt"

	"tradebrain/internal/database"
	"tradebrain/internal/logging"
)

// Store is the persistence surface the group service needs
type Store interface {
	CreateGroup(ctx context.Context, g *database.Group) error
	GetGroup(ctx context.Context, id string) (*database.Group, error)
	GetGroupByJoinCode(ctx context.Context, code string) (*database.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]*database.Group, error)
	AddGroupMember(ctx context.Context, groupID, userID string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]*database.GroupMember, error)
	DeleteGroup(ctx context.Context, groupID string) error
	CreateGroupMessage(ctx context.Context, m *database.GroupMessage) error
	GetGroupMessage(ctx context.Context, id string) (*database.GroupMessage, error)
	ListGroupMessages(ctx context.Context, groupID string, limit int) ([]*database.GroupMessage, error)
	DeleteGroupMessage(ctx context.Context, id string) error
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	GetPlan(ctx context.Context, code string) (*database.SubscriptionPlan, error)
}

// Service manages groups and their encrypted messages
type Service struct {
	store          Store
	cipher         *Cipher
	defaultMaxSize int
	logger         *logging.Logger
}

// NewService creates the group service
func NewService(store Store, cipher *Cipher, defaultMaxSize int, logger *logging.Logger) *Service {
	if defaultMaxSize <= 0 {
		defaultMaxSize = 25
	}
	return &Service{
		store:          store,
		cipher:         cipher,
		defaultMaxSize: defaultMaxSize,
		logger:         logger.WithComponent("groups"),
	}
}

// Join codes avoid ambiguous characters (0/O, 1/I/L)
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const joinCodeLength = 8

func newJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate join code: %w", err)
	}
	for i := range buf {
		buf[i] = joinCodeAlphabet[int(buf[i])%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}

// Create makes a new group owned by userID. The owner's plan caps the group
// size; users without a plan get the default.
func (s *Service) Create(ctx context.Context, ownerID, name string) (*database.Group, error) {
	if name == "" {
		return nil, fmt.Errorf("group name is required")
	}

	maxSize := s.defaultMaxSize
	owner, err := s.store.GetUserByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.PlanCode != nil {
		if plan, err := s.store.GetPlan(ctx, *owner.PlanCode); err == nil && plan != nil && plan.MaxGroupSize > 0 {
			maxSize = plan.MaxGroupSize
		}
	}

	code, err := newJoinCode()
	if err != nil {
		return nil, err
	}

	group := &database.Group{
		OwnerID:  ownerID,
		Name:     name,
		JoinCode: code,
		MaxSize:  maxSize,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	group.MemberCount = 1

	s.logger.Info("Group created", "group_id", group.ID, "owner_id", ownerID, "max_size", maxSize)
	return group, nil
}

// Join adds a user to the group behind a join code
func (s *Service) Join(ctx context.Context, userID, joinCode string) (*database.Group, error) {
	group, err := s.store.GetGroupByJoinCode(ctx, joinCode)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("invalid join code")
	}

	member, err := s.store.IsGroupMember(ctx, group.ID, userID)
	if err != nil {
		return nil, err
	}
	if member {
		return group, nil
	}
	if group.MemberCount >= group.MaxSize {
		return nil, fmt.Errorf("group is full (%d members)", group.MaxSize)
	}

	if err := s.store.AddGroupMember(ctx, group.ID, userID); err != nil {
		return nil, err
	}
	group.MemberCount++
	return group, nil
}

// Leave removes a member. The owner cannot leave; they delete the group.
func (s *Service) Leave(ctx context.Context, userID, groupID string) error {
	group, err := s.requireGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.OwnerID == userID {
		return fmt.Errorf("owner cannot leave their own group")
	}
	return s.store.RemoveGroupMember(ctx, groupID, userID)
}

// Delete removes the group and everything in it. Owner only.
func (s *Service) Delete(ctx context.Context, userID, groupID string) error {
	group, err := s.requireGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.OwnerID != userID {
		return fmt.Errorf("only the owner may delete a group")
	}
	return s.store.DeleteGroup(ctx, groupID)
}

// ListForUser returns the groups the user belongs to
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*database.Group, error) {
	return s.store.ListGroupsForUser(ctx, userID)
}

// Members returns the member list; callers must be members themselves
func (s *Service) Members(ctx context.Context, userID, groupID string) ([]*database.GroupMember, error) {
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.store.ListGroupMembers(ctx, groupID)
}

// Post encrypts and stores a message from a member
func (s *Service) Post(ctx context.Context, userID, groupID string, kind database.MessageKind, content string) (*database.GroupMessage, error) {
	if content == "" {
		return nil, fmt.Errorf("message content is required")
	}
	if kind != database.MessageText && kind != database.MessageStrategy {
		return nil, fmt.Errorf("invalid message kind %q", string(kind))
	}
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}

	sealed, err := s.cipher.Seal(content)
	if err != nil {
		return nil, err
	}
	msg := &database.GroupMessage{
		GroupID:    groupID,
		UserID:     userID,
		Kind:       kind,
		Ciphertext: sealed,
	}
	if err := s.store.CreateGroupMessage(ctx, msg); err != nil {
		return nil, err
	}
	msg.Content = content
	return msg, nil
}

// Messages returns decrypted messages for a member, newest first. A row that
// fails to decrypt is returned with empty content rather than sinking the
// whole page.
func (s *Service) Messages(ctx context.Context, userID, groupID string, limit int) ([]*database.GroupMessage, error) {
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	messages, err := s.store.ListGroupMessages(ctx, groupID, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		plain, err := s.cipher.Open(m.Ciphertext)
		if err != nil {
			s.logger.WithError(err).Warn("Undecryptable group message", "message_id", m.ID)
			continue
		}
		m.Content = plain
	}
	return messages, nil
}

// DeleteMessage removes a message. The group owner may delete any message;
// members only their own.
func (s *Service) DeleteMessage(ctx context.Context, userID, groupID, messageID string) error {
	group, err := s.requireGroup(ctx, groupID)
	if err != nil {
		return err
	}
	msg, err := s.store.GetGroupMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil || msg.GroupID != groupID {
		return fmt.Errorf("message not found")
	}
	if msg.UserID != userID && group.OwnerID != userID {
		return fmt.Errorf("not allowed to delete this message")
	}
	return s.store.DeleteGroupMessage(ctx, messageID)
}

func (s *Service) requireGroup(ctx context.Context, groupID string) (*database.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("group not found")
	}
	return group, nil
}

func (s *Service) requireMember(ctx context.Context, groupID, userID string) error {
	if _, err := s.requireGroup(ctx, groupID); err != nil {
		return err
	}
	member, err := s.store.IsGroupMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("not a member of this group")
	}
	return nil
}
