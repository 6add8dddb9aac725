// Package errors provides coded, actionable errors for the pixeltree CLI.
//
// Startup failures (a missing config file, an unreadable snapshot, a store
// that cannot be opened) are reported with a stable code, a plain-language
// explanation and a hint:
//
//	err := errors.New("P101").
//	    WithDetail("line 4: expected '=' after key").
//	    Wrap(parseErr)
//
//	errors.PrintError(os.Stderr, err)
//	// ERROR P101: Config file could not be parsed
//	//
//	//   line 4: expected '=' after key
//	//
//	//   Hint: Check the TOML syntax; durations are strings like "60s".
//
// # Error Categories
//
//   - config: configuration file and flag errors
//   - persistence: snapshot and store errors
//   - server: listener and runtime errors
//   - cli: command usage errors
package errors
