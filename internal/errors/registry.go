package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

const docBase = "https://prefsync.dev/docs/errors/"

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Backend availability (E001-E009)
	// ============================================

	"E001": {
		Category: CategoryUnavailable,
		Message:  "Storage backend unavailable",
		Detail:   "No storage backend is present in this environment. The cell serves its default value and skips all I/O.",
		DocURL:   docBase + "E001",
	},

	// ============================================
	// Read failures (E010-E019)
	// ============================================

	"E010": {
		Category: CategoryRead,
		Message:  "Error reading stored value",
		Detail:   "The backend failed to return the stored text. The default value is used instead.",
		DocURL:   docBase + "E010",
	},
	"E011": {
		Category: CategoryRead,
		Message:  "Stored value is not valid JSON for this type",
		Detail:   "The stored text could not be decoded into the cell's type. The default value is used instead.",
		DocURL:   docBase + "E011",
	},

	// ============================================
	// Write failures (E020-E039)
	// ============================================

	"E020": {
		Category: CategoryWrite,
		Message:  "Error writing stored value",
		Detail:   "The backend rejected the write. Local state keeps the new value and the stored value is stale until the next successful write.",
		DocURL:   docBase + "E020",
	},
	"E021": {
		Category: CategoryWrite,
		Message:  "Storage quota exceeded",
		Detail:   "The backend has no room for the value. Local state keeps the new value.",
		DocURL:   docBase + "E021",
	},
	"E022": {
		Category: CategoryWrite,
		Message:  "Value cannot be encoded as JSON",
		Detail:   "Values must be representable as JSON. Channels, functions and cyclic structures are not.",
		DocURL:   docBase + "E022",
	},
	"E030": {
		Category: CategoryWrite,
		Message:  "Error removing stored value",
		Detail:   "The backend failed to delete the entry. Local state was reset to the default regardless.",
		DocURL:   docBase + "E030",
	},

	// ============================================
	// External events (E040-E049)
	// ============================================

	"E040": {
		Category: CategoryEvent,
		Message:  "Error parsing storage event",
		Detail:   "Another context wrote text that does not decode into the cell's type. The event was ignored.",
		DocURL:   docBase + "E040",
	},

	// ============================================
	// Relay (E050-E059)
	// ============================================

	"E050": {
		Category: CategoryRelay,
		Message:  "Relay connection failed",
		Detail:   "Could not connect to the change relay. Changes from other contexts will not be observed.",
		DocURL:   docBase + "E050",
	},
	"E051": {
		Category: CategoryRelay,
		Message:  "Relay publish failed",
		Detail:   "The value was stored but other contexts were not notified.",
		DocURL:   docBase + "E051",
	},

	// ============================================
	// Configuration (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
		Detail:   "The configuration file could not be read or parsed.",
		DocURL:   docBase + "E120",
	},
	"E121": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		DocURL:   docBase + "E121",
	},
	"E122": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		DocURL:   docBase + "E122",
	},
	"E123": {
		Category: CategoryConfig,
		Message:  "Unknown storage backend",
		Detail:   "Supported backends are memory, file, sqlite and s3.",
		DocURL:   docBase + "E123",
	},
}

// Lookup returns the template registered for code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
