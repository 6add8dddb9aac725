// Package config loads pixeltree server configuration.
//
// Configuration is a TOML file. Every key is optional; missing keys take
// the defaults returned by New. Durations are strings accepted by
// time.ParseDuration.
//
// # Configuration File Structure
//
//	[server]
//	address = ":8080"
//	allowed_origins = ["https://tree.example.com"]
//	shutdown_timeout = "30s"
//
//	[grid]
//	width = 120
//	height = 180
//	background = "#1a1a2e"
//
//	[rate_limit]
//	cooldown = "0s"
//	scope = "session"
//
//	[persistence]
//	path = "data/grid.json"
//	interval = "60s"
//
//	[persistence.sqlite]
//	path = "data/history.db"
//	retain = 10
//
//	[persistence.s3]
//	bucket = "pixeltree"
//	key = "grid.json"
//
//	[log]
//	level = "info"
//	format = "text"
//
// Command line flags override file values; the result is fixed at process
// start.
package config
