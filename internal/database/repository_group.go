package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// =====================================================
// GROUPS
// =====================================================

// CreateGroup inserts a group and adds the owner as its first member
func (r *Repository) CreateGroup(ctx context.Context, g *Group) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin group tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO groups (owner_id, name, join_code, max_size)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		g.OwnerID, g.Name, g.JoinCode, g.MaxSize,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, g.ID, g.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to add owner member: %w", err)
	}

	return tx.Commit(ctx)
}

const groupColumns = `
	g.id, g.owner_id, g.name, g.join_code, g.max_size,
	(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id), g.created_at
`

func scanGroup(row pgx.Row) (*Group, error) {
	g := &Group{}
	err := row.Scan(&g.ID, &g.OwnerID, &g.Name, &g.JoinCode, &g.MaxSize, &g.MemberCount, &g.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}
	return g, nil
}

// GetGroup retrieves a group by ID. Returns (nil, nil) when not found.
func (r *Repository) GetGroup(ctx context.Context, id string) (*Group, error) {
	return scanGroup(r.db.Pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM groups g WHERE g.id = $1`, id))
}

// GetGroupByJoinCode retrieves a group by its join code
func (r *Repository) GetGroupByJoinCode(ctx context.Context, code string) (*Group, error) {
	return scanGroup(r.db.Pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM groups g WHERE g.join_code = $1`, code))
}

// ListGroupsForUser returns the groups a user belongs to
func (r *Repository) ListGroupsForUser(ctx context.Context, userID string) ([]*Group, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+groupColumns+` FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1 ORDER BY g.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AddGroupMember adds a user to a group
func (r *Repository) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember removes a user from a group
func (r *Repository) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	return nil
}

// IsGroupMember reports whether a user belongs to a group
func (r *Repository) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return n > 0, nil
}

// ListGroupMembers returns the members of a group
func (r *Repository) ListGroupMembers(ctx context.Context, groupID string) ([]*GroupMember, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT group_id, user_id, joined_at FROM group_members WHERE group_id = $1 ORDER BY joined_at`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*GroupMember
	for rows.Next() {
		m := &GroupMember{}
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// DeleteGroup removes a group and its members/messages (cascade)
func (r *Repository) DeleteGroup(ctx context.Context, groupID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}

// =====================================================
// GROUP MESSAGES
// =====================================================

// CreateGroupMessage stores an encrypted message
func (r *Repository) CreateGroupMessage(ctx context.Context, m *GroupMessage) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO group_messages (group_id, user_id, kind, ciphertext)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		m.GroupID, m.UserID, m.Kind, m.Ciphertext,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create group message: %w", err)
	}
	return nil
}

// GetGroupMessage retrieves one message. Returns (nil, nil) when not found.
func (r *Repository) GetGroupMessage(ctx context.Context, id string) (*GroupMessage, error) {
	m := &GroupMessage{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, group_id, user_id, kind, ciphertext, created_at
		FROM group_messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.GroupID, &m.UserID, &m.Kind, &m.Ciphertext, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group message: %w", err)
	}
	return m, nil
}

// ListGroupMessages returns messages newest first
func (r *Repository) ListGroupMessages(ctx context.Context, groupID string, limit int) ([]*GroupMessage, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, group_id, user_id, kind, ciphertext, created_at
		FROM group_messages WHERE group_id = $1 ORDER BY created_at DESC LIMIT $2`,
		groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list group messages: %w", err)
	}
	defer rows.Close()

	var messages []*GroupMessage
	for rows.Next() {
		m := &GroupMessage{}
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Kind, &m.Ciphertext, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteGroupMessage removes a message
func (r *Repository) DeleteGroupMessage(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM group_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group message: %w", err)
	}
	return nil
}
