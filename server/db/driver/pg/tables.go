// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/morphaNFT/marker-maker/server/db/driver/pg/internal"
)

// dbVersion is the schema version written to the meta table.
const dbVersion = 1

const metaTableName = "meta"

type tableStmt struct {
	name string
	stmt string
}

var createTableStatements = []tableStmt{
	{metaTableName, internal.CreateMetaTable},
	{"roles", internal.CreateRolesTable},
	{"balances", internal.CreateBalancesTable},
	{"bindings", internal.CreateBindingsTable},
	{"approved_tokens", internal.CreateTokenSetTable},
	{"allowed_tokens", internal.CreateTokenSetTable},
	{"records", internal.CreateRecordsTable},
}

var tableMap = func() map[string]string {
	m := make(map[string]string, len(createTableStatements))
	for _, pair := range createTableStatements {
		m[pair.name] = pair.stmt
	}
	return m
}()

// CreateTable creates one of the known tables by name. The table will be
// created in the specified schema (schema.tableName). If schema is empty,
// "public" is used.
func CreateTable(db *sql.DB, schema, tableName string) (bool, error) {
	createCommand, tableNameFound := tableMap[tableName]
	if !tableNameFound {
		return false, fmt.Errorf("table name %s unknown", tableName)
	}

	if schema == "" {
		schema = publicSchema
	}
	return createTable(db, createCommand, schema, tableName)
}

// PrepareTables ensures that all of the escrow tables exist and that the
// schema version is recognized.
func PrepareTables(db *sql.DB) error {
	for _, pair := range createTableStatements {
		if _, err := CreateTable(db, publicSchema, pair.name); err != nil {
			return fmt.Errorf("failed to create %s table: %w", pair.name, err)
		}
	}
	if _, err := db.Exec(internal.CreateRecordsAccountIndex); err != nil {
		return fmt.Errorf("failed to index records: %w", err)
	}
	return checkVersion(db)
}

// DBVersion retrieves the database version from the meta table.
func DBVersion(db *sql.DB) (ver uint32, err error) {
	err = db.QueryRow(internal.SelectDBVersion).Scan(&ver)
	return
}

func checkVersion(db *sql.DB) error {
	ver, err := DBVersion(db)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		log.Infof("Initializing escrow database at version %d", dbVersion)
		_, err = sqlExec(db, internal.CreateMetaRow, dbVersion)
		return err
	case err != nil:
		return fmt.Errorf("failed to get DB version: %w", err)
	case ver > dbVersion:
		return fmt.Errorf("current DB version %d is newer than highest recognized version %d",
			ver, dbVersion)
	}
	log.Infof("Escrow database ready at version %d", ver)
	return nil
}
