package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Config errors (P100-P199)

	"P100": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Suggestion: "Pass --config with an existing file, or omit it to run with defaults.",
	},
	"P101": {
		Category:   CategoryConfig,
		Message:    "Config file could not be parsed",
		Suggestion: `Check the TOML syntax; durations are strings like "60s".`,
	},
	"P102": {
		Category:   CategoryConfig,
		Message:    "Invalid configuration",
		Suggestion: "Fix the listed values and restart.",
	},

	// Persistence errors (P200-P299)

	"P200": {
		Category: CategoryPersistence,
		Message:  "Snapshot could not be read",
	},
	"P201": {
		Category:   CategoryPersistence,
		Message:    "Snapshot is corrupt",
		Detail:     "The file is not a pixeltree snapshot or its pixel count does not match its dimensions.",
		Suggestion: "Restore a backup, or move the file aside to start from an empty tree.",
	},
	"P202": {
		Category:   CategoryPersistence,
		Message:    "Snapshot store could not be opened",
		Suggestion: "Check the [persistence] section and that the data directory is writable.",
	},

	// Server errors (P300-P399)

	"P300": {
		Category:   CategoryServer,
		Message:    "Server failed",
		Suggestion: "Check that the listen address is free (another instance may be running).",
	},

	// CLI errors (P400-P499)

	"P400": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
	},
}

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
