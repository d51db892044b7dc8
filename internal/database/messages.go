package database

import (
	"context"
	"database/sql"
	"fmt"

	"chathub/internal/models"
)

const selectMessageColumns = `
	id, conversation_id, connector_id, author_id, body, parent_id, external_id, created_at, updated_at
`

func scanMessage(row *sql.Row) (*models.Message, error) {
	m := &models.Message{}
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.ConnectorID, &m.AuthorID, &m.Body,
		&m.ParentID, &m.ExternalID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return m, nil
}

// CreateMessage inserts a message. The external provider id is stamped
// separately once the provider acknowledges the send; inbound messages
// carry it from the start.
func (d *Database) CreateMessage(ctx context.Context, m *models.Message) error {
	return retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, connector_id, author_id, body, parent_id, external_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.ConversationID, m.ConnectorID, m.AuthorID, m.Body, m.ParentID, m.ExternalID)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		m.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}
		return nil
	}, "create message")
}

// StampExternalID records the provider's message id on an already stored
// message.
func (d *Database) StampExternalID(ctx context.Context, messageID int64, externalID string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE messages SET external_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, externalID, messageID)
	if err != nil {
		return fmt.Errorf("failed to stamp external id: %w", err)
	}
	return nil
}

// GetMessageByExternalID returns the newest message carrying the provider
// id on the given connector, or nil. Providers can reuse ids across long
// spans; the newest row is the one quote threading and reactions want.
func (d *Database) GetMessageByExternalID(ctx context.Context, connectorID int64, externalID string) (*models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE connector_id = ? AND external_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, selectMessageColumns)
	return scanMessage(d.db.QueryRowContext(ctx, query, connectorID, externalID))
}

// GetMessageByID returns a message by primary key, or nil.
func (d *Database) GetMessageByID(ctx context.Context, id int64) (*models.Message, error) {
	query := fmt.Sprintf("SELECT %s FROM messages WHERE id = ?", selectMessageColumns)
	return scanMessage(d.db.QueryRowContext(ctx, query, id))
}

// UpdateMessageBody rewrites the stored body, used for strikethrough on
// provider-side deletions.
// DeleteMessage removes a message row; attachments and reactions cascade.
func (d *Database) DeleteMessage(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (d *Database) UpdateMessageBody(ctx context.Context, id int64, body string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE messages SET body = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, body, id)
	if err != nil {
		return fmt.Errorf("failed to update message body: %w", err)
	}
	return nil
}

// CreateAttachment stores a binary attachment for a message.
func (d *Database) CreateAttachment(ctx context.Context, a *models.Attachment) error {
	return retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO attachments (message_id, filename, mime_type, data)
			VALUES (?, ?, ?, ?)
		`, a.MessageID, a.Filename, a.MimeType, a.Data)
		if err != nil {
			return fmt.Errorf("failed to create attachment: %w", err)
		}
		a.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read attachment id: %w", err)
		}
		return nil
	}, "create attachment")
}

// DeleteAttachmentsByFilename removes every attachment with the given
// filename across all messages. Used to purge stale QR code images once
// an instance reports connected.
func (d *Database) DeleteAttachmentsByFilename(ctx context.Context, filename string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM attachments WHERE filename = ?`, filename)
	if err != nil {
		return 0, fmt.Errorf("failed to delete attachments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted attachments: %w", err)
	}
	return n, nil
}

// CreateReaction stores a reaction against a message.
func (d *Database) CreateReaction(ctx context.Context, r *models.Reaction) error {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO reactions (message_id, contact_id, content)
		VALUES (?, ?, ?)
	`, r.MessageID, r.ContactID, r.Content)
	if err != nil {
		return fmt.Errorf("failed to create reaction: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read reaction id: %w", err)
	}
	return nil
}
