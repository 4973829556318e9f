/*
Package config loads ra process configuration from YAML files.

Configuration is deliberately small: where snapshots live, which backend
materializes them, how large outbound chunks are, and how the process logs.
Absent fields fall back to defaults so an empty file is a valid config.
*/
package config
