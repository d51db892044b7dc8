package database

import (
	"context"
	"database/sql"
	"fmt"

	"chathub/internal/models"
)

const selectConnectorColumns = `
	id, uuid, name, kind, enabled, url, api_key, verify_token,
	contact_field, contact_name, allow_broadcast, reopen_archived,
	always_update_picture, show_read_receipts, notify_reactions,
	import_contacts, default_actor_id, text_template, created_at, updated_at
`

func scanConnector(row *sql.Row) (*models.Connector, error) {
	c := &models.Connector{}
	err := row.Scan(
		&c.ID, &c.UUID, &c.Name, &c.Kind, &c.Enabled, &c.URL, &c.APIKey,
		&c.VerifyToken, &c.ContactField, &c.ContactName, &c.AllowBroadcast,
		&c.ReopenArchived, &c.AlwaysUpdatePicture, &c.ShowReadReceipts,
		&c.NotifyReactions, &c.ImportContacts, &c.DefaultActorID,
		&c.TextTemplate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connector: %w", err)
	}
	return c, nil
}

// UpsertConnector inserts or updates a connector keyed by its public UUID.
// The ID field is populated on return. default_actor_id is only set on
// insert; the actor contact is provisioned internally, not by config.
func (d *Database) UpsertConnector(ctx context.Context, c *models.Connector) error {
	query := `
		INSERT INTO connectors (
			uuid, name, kind, enabled, url, api_key, verify_token,
			contact_field, contact_name, allow_broadcast, reopen_archived,
			always_update_picture, show_read_receipts, notify_reactions,
			import_contacts, default_actor_id, text_template
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			enabled = excluded.enabled,
			url = excluded.url,
			api_key = excluded.api_key,
			verify_token = excluded.verify_token,
			contact_field = excluded.contact_field,
			contact_name = excluded.contact_name,
			allow_broadcast = excluded.allow_broadcast,
			reopen_archived = excluded.reopen_archived,
			always_update_picture = excluded.always_update_picture,
			show_read_receipts = excluded.show_read_receipts,
			notify_reactions = excluded.notify_reactions,
			import_contacts = excluded.import_contacts,
			text_template = excluded.text_template,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := d.db.ExecContext(ctx, query,
		c.UUID, c.Name, c.Kind, c.Enabled, c.URL, c.APIKey, c.VerifyToken,
		c.ContactField, c.ContactName, c.AllowBroadcast, c.ReopenArchived,
		c.AlwaysUpdatePicture, c.ShowReadReceipts, c.NotifyReactions,
		c.ImportContacts, c.DefaultActorID, c.TextTemplate,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connector: %w", err)
	}

	row := d.db.QueryRowContext(ctx, "SELECT id FROM connectors WHERE uuid = ?", c.UUID)
	if err := row.Scan(&c.ID); err != nil {
		return fmt.Errorf("failed to read back connector id: %w", err)
	}
	return nil
}

// GetConnectorByUUID returns the connector with the given public identifier,
// or nil when none exists. Manager conversation ids are loaded alongside.
func (d *Database) GetConnectorByUUID(ctx context.Context, uuid string) (*models.Connector, error) {
	query := fmt.Sprintf("SELECT %s FROM connectors WHERE uuid = ?", selectConnectorColumns)
	c, err := scanConnector(d.db.QueryRowContext(ctx, query, uuid))
	if err != nil || c == nil {
		return c, err
	}
	if err := d.loadManagerConversations(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SetConnectorDefaultActor assigns the contact administrative and from-me
// messages are attributed to.
func (d *Database) SetConnectorDefaultActor(ctx context.Context, connectorID, contactID int64) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE connectors SET default_actor_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		contactID, connectorID)
	if err != nil {
		return fmt.Errorf("failed to set default actor: %w", err)
	}
	return nil
}

// GetConnectorByID returns the connector with the given id, or nil.
func (d *Database) GetConnectorByID(ctx context.Context, id int64) (*models.Connector, error) {
	query := fmt.Sprintf("SELECT %s FROM connectors WHERE id = ?", selectConnectorColumns)
	c, err := scanConnector(d.db.QueryRowContext(ctx, query, id))
	if err != nil || c == nil {
		return c, err
	}
	if err := d.loadManagerConversations(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Database) loadManagerConversations(ctx context.Context, c *models.Connector) error {
	rows, err := d.db.QueryContext(ctx,
		"SELECT conversation_id FROM connector_managers WHERE connector_id = ?", c.ID)
	if err != nil {
		return fmt.Errorf("failed to load manager conversations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan manager conversation id: %w", err)
		}
		c.ManagerConversationIDs = append(c.ManagerConversationIDs, id)
	}
	return rows.Err()
}

// AddManagerConversation registers a conversation as a recipient of the
// connector's administrative status messages.
func (d *Database) AddManagerConversation(ctx context.Context, connectorID, conversationID int64) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO connector_managers (connector_id, conversation_id) VALUES (?, ?)",
		connectorID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to add manager conversation: %w", err)
	}
	return nil
}
