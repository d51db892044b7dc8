package models

// EventKind classifies a normalized inbound event.
type EventKind string

const (
	EventText        EventKind = "text"
	EventImage       EventKind = "image"
	EventVideo       EventKind = "video"
	EventAudio       EventKind = "audio"
	EventDocument    EventKind = "document"
	EventLocation    EventKind = "location"
	EventContactCard EventKind = "contact"
	EventReaction    EventKind = "reaction"
	EventReadReceipt EventKind = "read"
	EventEdit        EventKind = "edit"
	EventDelete      EventKind = "delete"
	EventAdmin       EventKind = "administrative"
	EventContactSync EventKind = "contacts"
	EventChallenge   EventKind = "challenge"
	EventIgnored     EventKind = "ignored"
)

// Media is inline attachment content decoded from a provider payload.
type Media struct {
	Data     []byte
	Filename string
	MimeType string
}

// Location carries coordinates plus an optional thumbnail.
type Location struct {
	Latitude  float64
	Longitude float64
	Thumbnail []byte
}

// AdminEvent is a connection/QR/logout status update from the provider.
type AdminEvent struct {
	Event        string
	Instance     string
	State        string
	StatusReason int
	QRCodeData   string // data URI
}

// ContactSeed is one entry of a bulk contact sync.
type ContactSeed struct {
	Identifier string
	Name       string
	PictureURL string
}

// Challenge is a webhook subscription verification request.
type Challenge struct {
	Verified bool
	Response string
}

// InboundEvent is the canonical form every provider payload is normalized
// into before dispatch. Only the fields relevant to Kind are populated.
type InboundEvent struct {
	Kind              EventKind
	ExternalID        string
	ContactIdentifier string
	ContactName       string
	SenderName        string // push name, used for group prefixing
	IsGroup           bool
	FromMe            bool
	Body              string
	QuotedExternalID  string
	TargetExternalID  string // reaction/read/edit/delete reference
	Emoji             string
	Media             *Media
	Location          *Location
	Admin             *AdminEvent
	Contacts          []ContactSeed
	Challenge         *Challenge
	Reason            string // why the event was ignored, for EventIgnored
}
