package models

import "time"

// Contact is a two-tier representation of an external conversational actor.
// A parent row (ParentID nil) is the real-world identity; a channel-contact
// row (ParentID set, Name fixed to the connector's contact name) attributes
// inbound messages to "the external actor" distinctly from internal agents.
type Contact struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	IdentifierField string    `json:"identifierField"` // e.g. "phone"
	Identifier      string    `json:"identifier"`
	ParentID        *int64    `json:"parentId,omitempty"`
	ImageLarge      string    `json:"imageLarge,omitempty"` // base64
	ImageSmall      string    `json:"imageSmall,omitempty"` // base64
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// IsChannelContact reports whether this is the synthetic sub-identity.
func (c *Contact) IsChannelContact() bool {
	return c.ParentID != nil
}

// AuthorID returns the identity messages should be attributed to: the parent
// when this is a channel-contact, otherwise the contact itself.
func (c *Contact) AuthorID() int64 {
	if c.ParentID != nil {
		return *c.ParentID
	}
	return c.ID
}
