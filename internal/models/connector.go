package models

import "time"

// ProviderKind identifies which adapter a connector speaks through.
type ProviderKind string

const (
	ProviderEvolution      ProviderKind = "evolution"
	ProviderWhatsAppCloud  ProviderKind = "whatsapp-cloud"
	ProviderGenericWebhook ProviderKind = "generic-webhook"
	ProviderExample        ProviderKind = "example"
)

// Connector is the configuration for one external bridge instance. It is
// created and edited by administrators, read on every inbound request and
// every outbound send. The pipeline itself only mutates counters.
type Connector struct {
	ID          int64        `json:"id"`
	UUID        string       `json:"uuid"` // public identifier used in webhook URLs
	Name        string       `json:"name"` // provider-side instance name
	Kind        ProviderKind `json:"kind"`
	Enabled     bool         `json:"enabled"`
	URL         string       `json:"url"`
	APIKey      string       `json:"apiKey"`
	VerifyToken string       `json:"verifyToken"`

	// Contact mapping: which contact field holds the external identifier and
	// what fixed display name synthetic channel-contacts get.
	ContactField string `json:"contactField"`
	ContactName  string `json:"contactName"`

	AllowBroadcast      bool `json:"allowBroadcast"`
	ReopenArchived      bool `json:"reopenArchived"`
	AlwaysUpdatePicture bool `json:"alwaysUpdatePicture"`
	ShowReadReceipts    bool `json:"showReadReceipts"`
	NotifyReactions     bool `json:"notifyReactions"`
	ImportContacts      bool `json:"importContacts"`

	// DefaultActorID is the contact used to author administrative and
	// from-me messages.
	DefaultActorID int64  `json:"defaultActorId"`
	TextTemplate   string `json:"textTemplate"`

	// ManagerConversationIDs receive administrative status messages
	// (QR codes, connection state) instead of end-user conversations.
	ManagerConversationIDs []int64 `json:"managerConversationIds,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultTextTemplate is used for outbound formatting when the connector has
// no template configured.
const DefaultTextTemplate = "<p><b>[{{.AuthorName}}]</b></p><p>{{.Body}}</p>"

// Template returns the connector's outbound text template, falling back to
// the default.
func (c *Connector) Template() string {
	if c.TextTemplate != "" {
		return c.TextTemplate
	}
	return DefaultTextTemplate
}
