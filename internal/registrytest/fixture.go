// Package registrytest builds copies of the registry source for tests. SQLite
// copies keep the tables in an attached database named bc_registries so
// schema-qualified queries run unchanged; PostgreSQL copies use a schema of
// the same name.
package registrytest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/dbsmedya/regstage/internal/database"
	"github.com/dbsmedya/regstage/internal/logger"
	"github.com/dbsmedya/regstage/internal/source"
	"github.com/dbsmedya/regstage/internal/sqlutil"
)

// Schema is the attached database name.
const Schema = source.DefaultSchema

var ddl = []string{
	`CREATE TABLE bc_registries.corporation (corp_num VARCHAR(10), corp_typ_cd VARCHAR(3), recognition_dts TIMESTAMP,
		last_ar_filed_dt TIMESTAMP, bn_9 VARCHAR(9), bn_15 VARCHAR(15), admin_email VARCHAR(254), last_ledger_dt TIMESTAMP)`,
	`CREATE TABLE bc_registries.event (event_id NUMERIC, corp_num VARCHAR(10), event_typ_cd VARCHAR(10),
		event_timestmp TIMESTAMP, trigger_dts TIMESTAMP)`,
	`CREATE TABLE bc_registries.filing (event_id NUMERIC, filing_typ_cd VARCHAR(5), effective_dt TIMESTAMP,
		period_end_dt TIMESTAMP)`,
	`CREATE TABLE bc_registries.corp_state (corp_num VARCHAR(10), start_event_id NUMERIC, end_event_id NUMERIC,
		state_typ_cd VARCHAR(3), dd_corp_num VARCHAR(10))`,
	`CREATE TABLE bc_registries.corp_op_state (state_typ_cd VARCHAR(3), op_state_typ_cd VARCHAR(3),
		short_desc VARCHAR(15), full_desc VARCHAR(40))`,
	`CREATE TABLE bc_registries.corp_name (corp_num VARCHAR(10), corp_name_typ_cd CHAR(2), start_event_id NUMERIC,
		end_event_id NUMERIC, corp_name_seq_num INTEGER, srch_nme VARCHAR(35), corp_nme VARCHAR(150), dd_corp_num VARCHAR(10))`,
	`CREATE TABLE bc_registries.office (corp_num VARCHAR(10), office_typ_cd CHAR(2), start_event_id NUMERIC,
		end_event_id NUMERIC, mailing_addr_id NUMERIC, delivery_addr_id NUMERIC, dd_corp_num VARCHAR(10))`,
	`CREATE TABLE bc_registries.address (addr_id NUMERIC, province CHAR(2), country_typ_cd CHAR(2), postal_cd VARCHAR(15),
		addr_line_1 VARCHAR(50), addr_line_2 VARCHAR(50), addr_line_3 VARCHAR(50), city VARCHAR(40),
		address_format_type VARCHAR(10), address_desc VARCHAR(300), address_desc_short VARCHAR(300),
		unit_no VARCHAR(6), unit_type VARCHAR(10), province_state_name VARCHAR(30))`,
	`CREATE TABLE bc_registries.jurisdiction (corp_num VARCHAR(10), start_event_id NUMERIC, end_event_id NUMERIC,
		can_jur_typ_cd CHAR(2), xpro_typ_cd CHAR(3), home_recogn_dt TIMESTAMP, othr_juris_desc VARCHAR(40),
		home_juris_num VARCHAR(40), home_company_nme VARCHAR(150))`,
	`CREATE TABLE bc_registries.jurisdiction_type (can_jur_typ_cd CHAR(2), short_desc VARCHAR(15), full_desc VARCHAR(40))`,
	`CREATE TABLE bc_registries.corp_type (corp_typ_cd VARCHAR(3), colin_ind CHAR(1), corp_class VARCHAR(10),
		short_desc VARCHAR(25), full_desc VARCHAR(50))`,
	`CREATE TABLE bc_registries.tilma_involved (tilma_involved_id NUMERIC, corp_num VARCHAR(10), start_event_id NUMERIC,
		end_event_id NUMERIC, involved_ind CHAR(1), effective_dt TIMESTAMP, jurisdiction VARCHAR(10),
		nuans_number VARCHAR(10), nuans_expiry_date TIMESTAMP, nr_number VARCHAR(10))`,
	`CREATE TABLE bc_registries.corp_party (corp_party_id NUMERIC, mailing_addr_id NUMERIC, delivery_addr_id NUMERIC,
		corp_num VARCHAR(10), party_typ_cd CHAR(3), start_event_id NUMERIC, end_event_id NUMERIC,
		cessation_dt TIMESTAMP, last_nme VARCHAR(30), middle_nme VARCHAR(30), first_nme VARCHAR(30),
		business_nme VARCHAR(150), bus_company_num VARCHAR(15), email_address VARCHAR(254),
		corp_party_seq_num NUMERIC, office_notification_dt TIMESTAMP, phone VARCHAR(30), reason_typ_cd VARCHAR(3))`,
	`CREATE TABLE bc_registries.party_type (party_typ_cd CHAR(3), short_desc VARCHAR(75), full_desc VARCHAR(250))`,
	`CREATE TABLE bc_registries.office_type (office_typ_cd CHAR(2), short_desc VARCHAR(75), full_desc VARCHAR(250))`,
	`CREATE TABLE bc_registries.event_type (event_typ_cd VARCHAR(10), short_desc VARCHAR(75), full_desc VARCHAR(250))`,
	`CREATE TABLE bc_registries.filing_type (filing_typ_cd VARCHAR(5), short_desc VARCHAR(75), full_desc VARCHAR(250))`,
	`CREATE TABLE bc_registries.corp_name_type (corp_name_typ_cd CHAR(2), short_desc VARCHAR(75), full_desc VARCHAR(250))`,
	`CREATE TABLE bc_registries.xpro_type (xpro_typ_cd CHAR(3), short_desc VARCHAR(75), full_desc VARCHAR(250))`,
}

// Source is an empty registry schema.
type Source struct {
	DB      *sql.DB
	Dialect sqlutil.Dialect
}

// NewSource creates the registry tables in a fresh in-memory database.
func NewSource(t testing.TB) *Source {
	t.Helper()
	return newSource(t, ":memory:")
}

// NewFileSource creates the registry tables in a SQLite file, so a process
// configured with driver sqlite3 and schema bc_registries can read them.
func NewFileSource(t testing.TB, path string) *Source {
	t.Helper()
	return newSource(t, path)
}

func newSource(t testing.TB, path string) *Source {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open(sqlutil.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// the attached database exists only on this connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, "ATTACH DATABASE ? AS "+Schema, path); err != nil {
		t.Fatalf("failed to attach %s: %v", Schema, err)
	}
	createTables(t, db)
	return &Source{DB: db, Dialect: sqlutil.Dialect{Driver: sqlutil.SQLite}}
}

// NewPostgresSource creates the registry schema and tables in an open
// PostgreSQL database, dropping any previous copy.
func NewPostgresSource(t testing.TB, db *sql.DB) *Source {
	t.Helper()
	for _, stmt := range []string{"DROP SCHEMA IF EXISTS " + Schema + " CASCADE", "CREATE SCHEMA " + Schema} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to prepare schema: %v", err)
		}
	}
	createTables(t, db)
	return &Source{DB: db, Dialect: sqlutil.Dialect{Driver: sqlutil.Postgres}}
}

func createTables(t testing.TB, db *sql.DB) {
	t.Helper()
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to create fixture table: %v\n%s", err, stmt)
		}
	}
}

// Client returns a source client over the fixture.
func (s *Source) Client(t testing.TB) *source.Client {
	t.Helper()
	c, err := source.NewClient(s.DB, s.Dialect, Schema, logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create source client: %v", err)
	}
	return c
}

// Exec runs a statement against the fixture.
func (s *Source) Exec(t testing.TB, query string, args ...interface{}) {
	t.Helper()
	if _, err := s.DB.Exec(query, args...); err != nil {
		t.Fatalf("fixture statement failed: %v\n%s", err, query)
	}
}

// Insert adds one row to a registry table, values in column order.
func (s *Source) Insert(t testing.TB, table string, values ...interface{}) {
	t.Helper()
	args := s.Dialect.NewArgs()
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = args.Add(v)
	}
	s.Exec(t, fmt.Sprintf("INSERT INTO %s.%s VALUES (%s)", Schema, table, strings.Join(placeholders, ", ")), args.Values()...)
}

var stageSeq atomic.Int64

// NewStageDB opens an in-memory stage database private to the test.
func NewStageDB(t testing.TB) *sql.DB {
	t.Helper()
	name := fmt.Sprintf("regstage_test_%d", stageSeq.Add(1))
	db, err := database.OpenStage(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to open stage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
