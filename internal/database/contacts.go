package database

import (
	"context"
	"database/sql"
	"fmt"

	"chathub/internal/models"
)

const selectContactColumns = `
	id, name, identifier_field, identifier, parent_id,
	image_large, image_small, created_at, updated_at
`

func scanContact(row *sql.Row) (*models.Contact, error) {
	c := &models.Contact{}
	err := row.Scan(
		&c.ID, &c.Name, &c.IdentifierField, &c.Identifier, &c.ParentID,
		&c.ImageLarge, &c.ImageSmall, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}
	return c, nil
}

// CreateContact inserts a contact and populates its ID.
func (d *Database) CreateContact(ctx context.Context, c *models.Contact) error {
	return retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO contacts (name, identifier_field, identifier, parent_id, image_large, image_small)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.Name, c.IdentifierField, c.Identifier, c.ParentID, c.ImageLarge, c.ImageSmall)
		if err != nil {
			return err
		}
		c.ID, err = res.LastInsertId()
		return err
	}, "create contact")
}

// CreateContactPair inserts a parent identity and its channel-contact in one
// transaction. On a uniqueness conflict the whole pair is rolled back; the
// caller recovers by re-selecting the channel contact.
func (d *Database) CreateContactPair(ctx context.Context, parent, channel *models.Contact) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO contacts (name, identifier_field, identifier, image_large, image_small)
		VALUES (?, ?, ?, ?, ?)
	`, parent.Name, parent.IdentifierField, parent.Identifier, parent.ImageLarge, parent.ImageSmall)
	if err != nil {
		return fmt.Errorf("failed to create parent contact: %w", err)
	}
	parentID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read parent contact id: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO contacts (name, identifier_field, identifier, parent_id, image_large, image_small)
		VALUES (?, ?, ?, ?, ?, ?)
	`, channel.Name, channel.IdentifierField, channel.Identifier, parentID, channel.ImageLarge, channel.ImageSmall)
	if err != nil {
		return fmt.Errorf("failed to create channel contact: %w", err)
	}
	channelID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read channel contact id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact pair: %w", err)
	}

	parent.ID = parentID
	channel.ID = channelID
	channel.ParentID = &parentID
	return nil
}

// GetChannelContact looks up the newest channel-contact matching the
// resolution key: identifier field, identifier value and the connector's
// configured contact name, with a parent present.
func (d *Database) GetChannelContact(ctx context.Context, field, identifier, name string) (*models.Contact, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM contacts
		WHERE identifier_field = ? AND identifier = ? AND name = ? AND parent_id IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, selectContactColumns)
	return scanContact(d.db.QueryRowContext(ctx, query, field, identifier, name))
}

// GetContactByID returns a contact by primary key, or nil.
func (d *Database) GetContactByID(ctx context.Context, id int64) (*models.Contact, error) {
	query := fmt.Sprintf("SELECT %s FROM contacts WHERE id = ?", selectContactColumns)
	return scanContact(d.db.QueryRowContext(ctx, query, id))
}

// UpdateContactImages writes both image size buckets on a contact.
func (d *Database) UpdateContactImages(ctx context.Context, id int64, large, small string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE contacts SET image_large = ?, image_small = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, large, small, id)
	if err != nil {
		return fmt.Errorf("failed to update contact images: %w", err)
	}
	return nil
}
