// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package internal

const (
	// TableExists reports whether the table exists in the schema.
	TableExists = `SELECT EXISTS (
		SELECT 1 FROM pg_tables WHERE schemaname = $1 AND tablename = $2);`

	// RetrieveSysSettingsServer selects the server settings that help with
	// connectivity problems.
	RetrieveSysSettingsServer = `SELECT name, setting, unit, source
		FROM pg_settings
		WHERE name IN ('max_connections', 'timezone', 'unix_socket_directories',
			'port', 'data_directory', 'config_file', 'listen_addresses')
		ORDER BY name;`

	// RetrieveSysSettingsDurability selects the settings that decide whether
	// a committed transaction survives a crash.
	RetrieveSysSettingsDurability = `SELECT name, setting, unit, source
		FROM pg_settings
		WHERE name IN ('synchronous_commit', 'fsync', 'full_page_writes', 'wal_level')
		ORDER BY name;`

	RetrievePGVersion = `SELECT version();`
)
