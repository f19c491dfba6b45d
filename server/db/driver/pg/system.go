// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/lib/pq"
	"github.com/morphaNFT/marker-maker/server/db/driver/pg/internal"
)

const publicSchema = "public"

// connString builds a lib/pq key=value connection string. A host beginning
// with "/" is a UNIX socket directory and takes no port.
func connString(host, port, user, pass, dbName string) string {
	kv := []string{
		"host=" + quoteConnValue(host),
		"user=" + quoteConnValue(user),
		"dbname=" + quoteConnValue(dbName),
		"sslmode=disable",
	}
	if pass != "" {
		kv = append(kv, "password="+quoteConnValue(pass))
	}
	if port != "" && !strings.HasPrefix(host, "/") {
		kv = append(kv, "port="+quoteConnValue(port))
	}
	return strings.Join(kv, " ")
}

func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	return "'" + strings.ReplaceAll(v, `'`, `\'`) + "'"
}

// connect opens and pings a PostgreSQL database. The caller closes the
// returned DB.
func connect(ctx context.Context, host, port, user, pass, dbName string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connString(host, port, user, pass, dbName))
	if err != nil {
		return nil, err
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// sqlExecutor is implemented by both sql.DB and sql.Tx.
type sqlExecutor interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// sqlExec executes the statement and returns the number of rows affected.
func sqlExec(db sqlExecutor, stmt string, args ...any) (int64, error) {
	res, err := db.Exec(stmt, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error in RowsAffected: %w", err)
	}
	return n, nil
}

func tableExists(db *sql.DB, schema, tableName string) (exists bool, err error) {
	err = db.QueryRow(internal.TableExists, schema, tableName).Scan(&exists)
	return
}

// createTable runs the CREATE statement, formatted with the quoted
// schema.table name, unless the table already exists.
func createTable(db *sql.DB, fmtStmt, schema, tableName string) (bool, error) {
	exists, err := tableExists(db, schema, tableName)
	if err != nil || exists {
		return false, err
	}
	fullName := pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(tableName)
	log.Infof("Creating the %s table.", fullName)
	if _, err = db.Exec(fmt.Sprintf(fmtStmt, fullName)); err != nil {
		return false, err
	}
	return true, nil
}

// pgSetting is a row of pg_settings.
type pgSetting struct {
	name, setting, unit, source string
}

type pgSettings []pgSetting

func (s pgSettings) lookup(name string) (string, bool) {
	i := slices.IndexFunc(s, func(ps pgSetting) bool { return ps.name == name })
	if i < 0 {
		return "", false
	}
	return s[i].setting, true
}

func (s pgSettings) String() string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSETTING\tSOURCE")
	for _, ps := range s {
		fmt.Fprintf(w, "%s\t%s%s\t%s\n", ps.name, ps.setting, ps.unit, ps.source)
	}
	w.Flush()
	return sb.String()
}

// retrieveSettings runs a pg_settings query returning name, setting, unit and
// source, ordered by name.
func retrieveSettings(db *sql.DB, stmt string) (pgSettings, error) {
	rows, err := db.Query(stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings pgSettings
	for rows.Next() {
		var ps pgSetting
		var unit sql.NullString
		if err = rows.Scan(&ps.name, &ps.setting, &unit, &ps.source); err != nil {
			return nil, err
		}
		ps.unit = unit.String
		settings = append(settings, ps)
	}
	return settings, rows.Err()
}

func retrievePGVersion(db *sql.DB) (ver string, err error) {
	err = db.QueryRow(internal.RetrievePGVersion).Scan(&ver)
	return
}

func checkCurrentTimeZone(db *sql.DB) (currentTZ string, err error) {
	if err = db.QueryRow(`SHOW TIME ZONE`).Scan(&currentTZ); err != nil {
		err = fmt.Errorf("unable to query current time zone: %w", err)
	}
	return
}

// checkDurability refuses to run with fsync off. Asynchronous commit only
// risks losing the latest operations in a crash, so it is a warning.
func (a *Archiver) checkDurability(hidePGConfig bool) error {
	settings, err := retrieveSettings(a.db, internal.RetrieveSysSettingsDurability)
	if err != nil {
		return err
	}
	if !hidePGConfig {
		log.Infof("postgres durability settings:\n%v", settings)
		servSettings, err := retrieveSettings(a.db, internal.RetrieveSysSettingsServer)
		if err != nil {
			return err
		}
		log.Infof("postgres server settings:\n%v", servSettings)
	}

	if fsync, _ := settings.lookup("fsync"); fsync == "off" {
		return fmt.Errorf("fsync is off. escrow balances require a durable database")
	}
	if syncCommit, _ := settings.lookup("synchronous_commit"); syncCommit == "off" {
		log.Warnf(`The synchronous_commit setting is "off". A server crash may lose ` +
			`recently committed escrow operations.`)
	}
	return nil
}
