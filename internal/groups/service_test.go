package groups

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/database"
	"tradebrain/internal/logging"
)

type groupStore struct {
	groups   map[string]*database.Group
	members  map[string]map[string]bool // groupID -> userID set
	messages map[string]*database.GroupMessage
	users    map[string]*database.User
	plans    map[string]*database.SubscriptionPlan
	nextID   int
}

func newGroupStore() *groupStore {
	return &groupStore{
		groups:   map[string]*database.Group{},
		members:  map[string]map[string]bool{},
		messages: map[string]*database.GroupMessage{},
		users:    map[string]*database.User{},
		plans:    map[string]*database.SubscriptionPlan{},
	}
}

func (s *groupStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *groupStore) CreateGroup(ctx context.Context, g *database.Group) error {
	g.ID = s.id("grp")
	g.CreatedAt = time.Now()
	s.groups[g.ID] = g
	s.members[g.ID] = map[string]bool{g.OwnerID: true}
	return nil
}

func (s *groupStore) GetGroup(ctx context.Context, id string) (*database.Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, nil
	}
	g.MemberCount = len(s.members[id])
	return g, nil
}

func (s *groupStore) GetGroupByJoinCode(ctx context.Context, code string) (*database.Group, error) {
	for _, g := range s.groups {
		if g.JoinCode == code {
			g.MemberCount = len(s.members[g.ID])
			return g, nil
		}
	}
	return nil, nil
}

func (s *groupStore) ListGroupsForUser(ctx context.Context, userID string) ([]*database.Group, error) {
	var out []*database.Group
	for id, g := range s.groups {
		if s.members[id][userID] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *groupStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	s.members[groupID][userID] = true
	return nil
}

func (s *groupStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	delete(s.members[groupID], userID)
	return nil
}

func (s *groupStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	return s.members[groupID][userID], nil
}

func (s *groupStore) ListGroupMembers(ctx context.Context, groupID string) ([]*database.GroupMember, error) {
	var out []*database.GroupMember
	for uid := range s.members[groupID] {
		out = append(out, &database.GroupMember{GroupID: groupID, UserID: uid})
	}
	return out, nil
}

func (s *groupStore) DeleteGroup(ctx context.Context, groupID string) error {
	delete(s.groups, groupID)
	delete(s.members, groupID)
	return nil
}

func (s *groupStore) CreateGroupMessage(ctx context.Context, m *database.GroupMessage) error {
	m.ID = s.id("msg")
	m.CreatedAt = time.Now()
	cp := *m
	cp.Content = ""
	s.messages[m.ID] = &cp
	return nil
}

func (s *groupStore) GetGroupMessage(ctx context.Context, id string) (*database.GroupMessage, error) {
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return m, nil
}

func (s *groupStore) ListGroupMessages(ctx context.Context, groupID string, limit int) ([]*database.GroupMessage, error) {
	var out []*database.GroupMessage
	for _, m := range s.messages {
		if m.GroupID == groupID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *groupStore) DeleteGroupMessage(ctx context.Context, id string) error {
	delete(s.messages, id)
	return nil
}

func (s *groupStore) GetUserByID(ctx context.Context, userID string) (*database.User, error) {
	return s.users[userID], nil
}

func (s *groupStore) GetPlan(ctx context.Context, code string) (*database.SubscriptionPlan, error) {
	return s.plans[code], nil
}

func newTestService(t *testing.T) (*Service, *groupStore) {
	t.Helper()
	store := newGroupStore()
	cipher, err := NewCipher("unit-test-secret")
	require.NoError(t, err)
	return NewService(store, cipher, 25, logging.Default()), store
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("secret-passphrase")
	require.NoError(t, err)

	sealed, err := c.Seal("buy the dip")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "buy the dip")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "buy the dip", plain)
}

func TestCipherRejectsWrongKey(t *testing.T) {
	a, err := NewCipher("key-a")
	require.NoError(t, err)
	b, err := NewCipher("key-b")
	require.NoError(t, err)

	sealed, err := a.Seal("private")
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestCreateUsesPlanGroupSize(t *testing.T) {
	svc, store := newTestService(t)
	plan := "creator"
	store.users["u1"] = &database.User{ID: "u1", PlanCode: &plan}
	store.plans["creator"] = &database.SubscriptionPlan{Code: "creator", MaxGroupSize: 100}

	group, err := svc.Create(context.Background(), "u1", "alpha hunters")
	require.NoError(t, err)

	assert.Equal(t, 100, group.MaxSize)
	assert.Len(t, group.JoinCode, joinCodeLength)
	assert.Equal(t, 1, group.MemberCount) // owner auto-joined
}

func TestJoinByCodeAndCapacity(t *testing.T) {
	svc, store := newTestService(t)
	store.users["owner"] = &database.User{ID: "owner"}

	group, err := svc.Create(context.Background(), "owner", "tiny")
	require.NoError(t, err)
	store.groups[group.ID].MaxSize = 2

	_, err = svc.Join(context.Background(), "u2", group.JoinCode)
	require.NoError(t, err)

	// Third member exceeds capacity
	_, err = svc.Join(context.Background(), "u3", group.JoinCode)
	assert.Error(t, err)

	_, err = svc.Join(context.Background(), "u9", "WRONGCODE")
	assert.Error(t, err)
}

func TestOwnerCannotLeave(t *testing.T) {
	svc, store := newTestService(t)
	store.users["owner"] = &database.User{ID: "owner"}
	group, err := svc.Create(context.Background(), "owner", "g")
	require.NoError(t, err)

	assert.Error(t, svc.Leave(context.Background(), "owner", group.ID))

	_, err = svc.Join(context.Background(), "u2", group.JoinCode)
	require.NoError(t, err)
	assert.NoError(t, svc.Leave(context.Background(), "u2", group.ID))
}

func TestMessagesEncryptedAtRestAndDecryptedForMembers(t *testing.T) {
	svc, store := newTestService(t)
	store.users["owner"] = &database.User{ID: "owner"}
	group, err := svc.Create(context.Background(), "owner", "g")
	require.NoError(t, err)

	msg, err := svc.Post(context.Background(), "owner", group.ID, database.MessageText, "watch AAPL")
	require.NoError(t, err)
	assert.Equal(t, "watch AAPL", msg.Content)

	// At rest the row holds only ciphertext
	stored := store.messages[msg.ID]
	assert.Empty(t, stored.Content)
	assert.NotEmpty(t, stored.Ciphertext)
	assert.NotContains(t, stored.Ciphertext, "watch AAPL")

	listed, err := svc.Messages(context.Background(), "owner", group.ID, 50)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "watch AAPL", listed[0].Content)

	// Non-members get nothing
	_, err = svc.Messages(context.Background(), "outsider", group.ID, 50)
	assert.Error(t, err)
}

func TestDeleteMessagePermissions(t *testing.T) {
	svc, store := newTestService(t)
	store.users["owner"] = &database.User{ID: "owner"}
	group, err := svc.Create(context.Background(), "owner", "g")
	require.NoError(t, err)
	_, err = svc.Join(context.Background(), "u2", group.JoinCode)
	require.NoError(t, err)
	_, err = svc.Join(context.Background(), "u3", group.JoinCode)
	require.NoError(t, err)

	msg, err := svc.Post(context.Background(), "u2", group.ID, database.MessageText, "mine")
	require.NoError(t, err)

	// Another member cannot delete someone else's message
	assert.Error(t, svc.DeleteMessage(context.Background(), "u3", group.ID, msg.ID))
	// The owner can
	assert.NoError(t, svc.DeleteMessage(context.Background(), "owner", group.ID, msg.ID))

	msg2, err := svc.Post(context.Background(), "u2", group.ID, database.MessageStrategy, "mine too")
	require.NoError(t, err)
	// The author can delete their own
	assert.NoError(t, svc.DeleteMessage(context.Background(), "u2", group.ID, msg2.ID))
}

func TestOnlyOwnerDeletesGroup(t *testing.T) {
	svc, store := newTestService(t)
	store.users["owner"] = &database.User{ID: "owner"}
	group, err := svc.Create(context.Background(), "owner", "g")
	require.NoError(t, err)
	_, err = svc.Join(context.Background(), "u2", group.JoinCode)
	require.NoError(t, err)

	assert.Error(t, svc.Delete(context.Background(), "u2", group.ID))
	assert.NoError(t, svc.Delete(context.Background(), "owner", group.ID))
	assert.NotContains(t, store.groups, group.ID)
}
