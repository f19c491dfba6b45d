// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package internal

// Amounts are NUMERIC(78) so that any uint256 fits. Addresses are 20-byte
// BYTEA.
const (
	// CreateMetaTable creates a table to hold the schema version. This query
	// has a %s specifier for the table name so it can work with createTable.
	CreateMetaTable = `CREATE TABLE IF NOT EXISTS %s (
		schema_version INT4 DEFAULT 0
	);`

	// CreateMetaRow creates the single row of the meta table.
	CreateMetaRow = `INSERT INTO meta (schema_version) VALUES ($1);`

	// SelectDBVersion retrieves the schema version.
	SelectDBVersion = `SELECT schema_version FROM meta;`

	// CreateRolesTable creates the single-row roles table.
	CreateRolesTable = `CREATE TABLE IF NOT EXISTS %s (
		id INT2 PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		administrator BYTEA NOT NULL,
		operator BYTEA NOT NULL,
		deduction_agent BYTEA NOT NULL,
		active BOOLEAN NOT NULL
	);`

	// UpsertRoles inserts or replaces the roles row.
	UpsertRoles = `INSERT INTO roles (id, administrator, operator, deduction_agent, active)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET administrator = $1, operator = $2, deduction_agent = $3, active = $4;`

	// SelectRoles retrieves the roles row.
	SelectRoles = `SELECT administrator, operator, deduction_agent, active FROM roles;`

	// CreateBalancesTable creates the balances table.
	CreateBalancesTable = `CREATE TABLE IF NOT EXISTS %s (
		account BYTEA NOT NULL,
		token BYTEA NOT NULL,
		amount NUMERIC(78) NOT NULL,
		PRIMARY KEY (account, token)
	);`

	// UpsertBalance inserts or updates a balance.
	UpsertBalance = `INSERT INTO balances (account, token, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (account, token) DO UPDATE
		SET amount = $3;`

	// DeleteBalance removes a balance row.
	DeleteBalance = `DELETE FROM balances WHERE account = $1 AND token = $2;`

	// SelectBalances retrieves all balances.
	SelectBalances = `SELECT account, token, amount FROM balances;`

	// CreateBindingsTable creates the bindings table.
	CreateBindingsTable = `CREATE TABLE IF NOT EXISTS %s (
		account BYTEA PRIMARY KEY,
		collection BYTEA NOT NULL,
		token BYTEA NOT NULL,
		min_price NUMERIC(78) NOT NULL,
		max_price NUMERIC(78) NOT NULL
	);`

	// UpsertBinding inserts or replaces an account's binding.
	UpsertBinding = `INSERT INTO bindings (account, collection, token, min_price, max_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account) DO UPDATE
		SET collection = $2, token = $3, min_price = $4, max_price = $5;`

	// DeleteBinding removes an account's binding.
	DeleteBinding = `DELETE FROM bindings WHERE account = $1;`

	// SelectBindings retrieves all bindings.
	SelectBindings = `SELECT account, collection, token, min_price, max_price FROM bindings;`

	// CreateTokenSetTable creates a table of token addresses. It is used for
	// both approved_tokens and allowed_tokens.
	CreateTokenSetTable = `CREATE TABLE IF NOT EXISTS %s (
		token BYTEA PRIMARY KEY
	);`

	// InsertApprovedToken adds a token to the approved set.
	InsertApprovedToken = `INSERT INTO approved_tokens (token) VALUES ($1) ON CONFLICT DO NOTHING;`

	// SelectApprovedTokens retrieves the approved set.
	SelectApprovedTokens = `SELECT token FROM approved_tokens;`

	// InsertAllowedToken adds a token to the allowed set.
	InsertAllowedToken = `INSERT INTO allowed_tokens (token) VALUES ($1) ON CONFLICT DO NOTHING;`

	// DeleteAllowedToken removes a token from the allowed set.
	DeleteAllowedToken = `DELETE FROM allowed_tokens WHERE token = $1;`

	// SelectAllowedTokens retrieves the allowed set.
	SelectAllowedTokens = `SELECT token FROM allowed_tokens;`

	// CreateRecordsTable creates the append-only record log.
	CreateRecordsTable = `CREATE TABLE IF NOT EXISTS %s (
		seq INT8 PRIMARY KEY,
		rec_type INT2 NOT NULL,
		stamp TIMESTAMPTZ NOT NULL,
		caller BYTEA NOT NULL,
		account BYTEA NOT NULL,
		counterparty BYTEA NOT NULL,
		token BYTEA NOT NULL,
		collection BYTEA NOT NULL,
		amount NUMERIC(78),
		spend_cap NUMERIC(78),
		detail TEXT NOT NULL DEFAULT ''
	);`

	// CreateRecordsAccountIndex indexes records by account.
	CreateRecordsAccountIndex = `CREATE INDEX IF NOT EXISTS idx_records_account ON records (account);`

	// InsertRecord appends a record.
	InsertRecord = `INSERT INTO records (seq, rec_type, stamp, caller, account,
		counterparty, token, collection, amount, spend_cap, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`

	// SelectRecords is the base records query. WHERE clauses, ordering, and
	// a limit are appended.
	SelectRecords = `SELECT seq, rec_type, stamp, caller, account, counterparty,
		token, collection, amount, spend_cap, detail FROM records`

	// SelectLastSeq retrieves the highest record sequence number.
	SelectLastSeq = `SELECT COALESCE(MAX(seq), 0) FROM records;`
)
