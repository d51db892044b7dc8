package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"chathub/internal/models"
)

const selectConversationColumns = `
	id, connector_id, outgoing_destination, name, image, active, created_at, updated_at
`

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := row.Scan(
		&c.ID, &c.ConnectorID, &c.OutgoingDestination, &c.Name, &c.Image,
		&c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return c, nil
}

// CreateConversation inserts a conversation and its initial membership set
// in one transaction.
func (d *Database) CreateConversation(ctx context.Context, c *models.Conversation, memberIDs []int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (connector_id, outgoing_destination, name, image, active)
		VALUES (?, ?, ?, ?, ?)
	`, c.ConnectorID, c.OutgoingDestination, c.Name, c.Image, c.Active)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read conversation id: %w", err)
	}

	for _, contactID := range memberIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_members (conversation_id, contact_id)
			VALUES (?, ?)
		`, c.ID, contactID)
		if err != nil {
			return fmt.Errorf("failed to add member %d: %w", contactID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	return nil
}

// GetConversationByID returns a conversation by primary key, or nil.
func (d *Database) GetConversationByID(ctx context.Context, id int64) (*models.Conversation, error) {
	query := fmt.Sprintf("SELECT %s FROM conversations WHERE id = ?", selectConversationColumns)
	return scanConversation(d.db.QueryRowContext(ctx, query, id))
}

// GetLatestConversationForContact returns the conversation behind the
// newest-created membership of the contact in any conversation owned by the
// connector, active or not. Newest membership wins: this is the tie-break
// for contacts with multiple historical conversations.
func (d *Database) GetLatestConversationForContact(ctx context.Context, connectorID, contactID int64) (*models.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM conversations c
		JOIN conversation_members m ON m.conversation_id = c.id
		WHERE c.connector_id = ? AND m.contact_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`, prefixColumns("c", selectConversationColumns))
	return scanConversation(d.db.QueryRowContext(ctx, query, connectorID, contactID))
}

// SetConversationActive archives or unarchives a conversation.
func (d *Database) SetConversationActive(ctx context.Context, id int64, active bool) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE conversations SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, active, id)
	if err != nil {
		return fmt.Errorf("failed to set conversation active=%v: %w", active, err)
	}
	return nil
}

// AddConversationMember links a contact into a conversation, ignoring
// duplicates.
func (d *Database) AddConversationMember(ctx context.Context, conversationID, contactID int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_members (conversation_id, contact_id)
		VALUES (?, ?)
	`, conversationID, contactID)
	if err != nil {
		return fmt.Errorf("failed to add conversation member: %w", err)
	}
	return nil
}

// GetConversationMember returns the membership row for a contact, or nil.
func (d *Database) GetConversationMember(ctx context.Context, conversationID, contactID int64) (*models.ConversationMember, error) {
	m := &models.ConversationMember{}
	err := d.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, contact_id, last_read_message_id, created_at
		FROM conversation_members
		WHERE conversation_id = ? AND contact_id = ?
	`, conversationID, contactID).Scan(
		&m.ID, &m.ConversationID, &m.ContactID, &m.LastReadMessageID, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation member: %w", err)
	}
	return m, nil
}

// MarkMemberRead advances the member's read cursor.
func (d *Database) MarkMemberRead(ctx context.Context, memberID, messageID int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE conversation_members SET last_read_message_id = ? WHERE id = ?
	`, messageID, memberID)
	if err != nil {
		return fmt.Errorf("failed to mark member read: %w", err)
	}
	return nil
}

// ListMemberContactIDs returns every contact in a conversation.
func (d *Database) ListMemberContactIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT contact_id FROM conversation_members WHERE conversation_id = ? ORDER BY id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRoutingMembers returns the connector's routing members ordered by
// least-assigned first.
func (d *Database) ListRoutingMembers(ctx context.Context, connectorID int64) ([]models.RoutingMember, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, connector_id, contact_id, assignment_count, created_at
		FROM routing_members
		WHERE connector_id = ?
		ORDER BY assignment_count ASC, id ASC
	`, connectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing members: %w", err)
	}
	defer rows.Close()

	var members []models.RoutingMember
	for rows.Next() {
		var m models.RoutingMember
		if err := rows.Scan(&m.ID, &m.ConnectorID, &m.ContactID, &m.AssignmentCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan routing member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddRoutingMember registers a contact as routable on a connector.
func (d *Database) AddRoutingMember(ctx context.Context, connectorID, contactID int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO routing_members (connector_id, contact_id) VALUES (?, ?)
	`, connectorID, contactID)
	if err != nil {
		return fmt.Errorf("failed to add routing member: %w", err)
	}
	return nil
}

// IncrementRoutingAssignments bumps the assignment counter of the given
// routing members. A plain transactional update is enough; the store's
// normal update semantics serialize concurrent increments.
func (d *Database) IncrementRoutingAssignments(ctx context.Context, memberIDs []int64) error {
	if len(memberIDs) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range memberIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE routing_members SET assignment_count = assignment_count + 1 WHERE id = ?
		`, id); err != nil {
			return fmt.Errorf("failed to increment routing member %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit routing increments: %w", err)
	}
	return nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, col := range parts {
		parts[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}
