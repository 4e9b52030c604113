// Package appinfo provides application identity constants.
// These are used across packages for consistent naming.
package appinfo

const (
	// AppName is the display name of the application.
	AppName = "Sinfar Watch"

	// DirName is the directory name used for storing application data
	// when no explicit data directory is configured.
	DirName = "sinfarwatch"

	// ConfigFileName is the configuration file name looked up at startup.
	ConfigFileName = "config.yaml"

	// DatabaseFileName is the SQLite database file name.
	DatabaseFileName = "sinfarwatch.sqlite"

	// PlayerSnapshotFileName holds the serialized player roster.
	PlayerSnapshotFileName = "players.json"

	// CharacterSnapshotFileName holds the serialized character roster.
	CharacterSnapshotFileName = "characters.json"
)
