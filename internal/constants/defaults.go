package constants

// Default server configuration values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultNamespace             = "hub"
)

// Default provider call timeouts. Status checks are short, media uploads
// long; instance restart/logout settle for a fixed delay afterwards.
const (
	DefaultStatusTimeoutSec    = 10
	DefaultSendTimeoutSec      = 10
	DefaultMediaTimeoutSec     = 30
	DefaultLookupTimeoutSec    = 5
	DefaultInstanceSettleSec   = 5
	DefaultProfilePicFetchSec  = 5
	DefaultConnectorCacheSec   = 60
	DefaultConnectorCacheSweep = 300
)

// Default webhook delivery manager values
const (
	DefaultWebhookMaxRetries      = 3
	DefaultWebhookRetryDelaySec   = 60
	DefaultWebhookRetryMultiplier = 2.0
	DefaultWebhookTimeoutSec      = 30
	DefaultWebhookBatchSize       = 1
	DefaultWebhookSweepSec        = 60
	DefaultLogRetentionDays       = 30
	DefaultResponseBodyLimit      = 5000
	DefaultAuthHeaderName         = "X-API-Key"
)

// Default database retry values
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
)

// Fixed attachment filenames. Providers rarely supply audio filenames, so
// audio is always normalized.
const (
	AudioFilename        = "audio.ogg"
	ImageFilename        = "image.jpg"
	LocationThumbnail    = "location.jpeg"
	QRCodeAttachmentName = "QRCODE:" // prefix, instance name appended
)
