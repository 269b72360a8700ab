// Package datarecording stores tables of flat structs in a SQL database.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder is a backend that can record and store data
type DataRecorder interface {
	// CreateTable creates a new table whose columns are the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all tables created.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush()

	// Close flushes and closes the database.
	Close() error
}

// New creates a DataRecorder that writes to the SQLite file
// path.sqlite3. An empty path picks a unique name. The file must not exist.
func New(path string) DataRecorder {
	if path == "" {
		path = "nachosvm_recording_" + xid.New().String()
	}

	filename := path + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	w, err := Open(DriverSQLite3, filename)
	if err != nil {
		panic(err)
	}

	return w
}

// Open creates a DataRecorder on a database reached through one of the
// supported drivers.
func Open(driver, dsn string) (DataRecorder, error) {
	d, err := dialectOf(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}

	return newWriter(db, d), nil
}

// NewWithDB creates a new DataRecorder with a given database, opened with the
// given driver.
func NewWithDB(db *sql.DB, driver string) DataRecorder {
	d, err := dialectOf(driver)
	if err != nil {
		panic(err)
	}

	return newWriter(db, d)
}

func newWriter(db *sql.DB, d dialect) *sqlWriter {
	w := &sqlWriter{
		DB:        db,
		dialect:   d,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { w.Flush() })

	return w
}

type table struct {
	structType reflect.Type
	entries    []any
}

// sqlWriter is the writer that writes data into a SQL database
type sqlWriter struct {
	*sql.DB

	mu         sync.Mutex
	dialect    dialect
	tables     map[string]*table
	tableOrder []string
	batchSize  int
	entryCount int
	closed     bool
}

func (w *sqlWriter) checkStructFields(entry any) error {
	types := reflect.TypeOf(entry)
	if types.Kind() != reflect.Struct {
		return fmt.Errorf("entry of type %s is not a struct", types)
	}

	for i := 0; i < types.NumField(); i++ {
		field := types.Field(i)

		if !field.IsExported() {
			return fmt.Errorf("field %s of %s is not exported", field.Name, types)
		}

		if !isAllowedKind(field.Type.Kind()) {
			return fmt.Errorf("field %s of %s has unsupported kind %s",
				field.Name, types, field.Type.Kind())
		}
	}

	return nil
}

func (w *sqlWriter) CreateTable(tableName string, sampleEntry any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.checkStructFields(sampleEntry)
	if err != nil {
		panic(err)
	}

	if _, exists := w.tables[tableName]; exists {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	types := reflect.TypeOf(sampleEntry)
	names := structs.Names(sampleEntry)
	columns := make([]string, len(names))
	for i, n := range names {
		f, _ := types.FieldByName(n)
		columns[i] = n + " " + w.dialect.columnType(f.Type.Kind())
	}

	createTableSQL := `CREATE TABLE ` + tableName +
		` (` + "\n\t" + strings.Join(columns, ", \n\t") + "\n" + `)` +
		w.dialect.tableOptions + `;`
	w.mustExecute(createTableSQL)

	w.tables[tableName] = &table{
		structType: types,
	}
	w.tableOrder = append(w.tableOrder, tableName)
}

func (w *sqlWriter) InsertData(tableName string, entry any) {
	w.mu.Lock()

	t, exists := w.tables[tableName]
	if !exists {
		w.mu.Unlock()
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		w.mu.Unlock()
		panic(fmt.Sprintf("entry of type %T does not fit table %s",
			entry, tableName))
	}

	t.entries = append(t.entries, entry)
	w.entryCount++
	full := w.entryCount >= w.batchSize

	w.mu.Unlock()

	if full {
		w.Flush()
	}
}

func (w *sqlWriter) ListTables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]string(nil), w.tableOrder...)
}

func (w *sqlWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.entryCount == 0 || w.closed {
		return
	}

	tx, err := w.Begin()
	if err != nil {
		panic(err)
	}

	for _, tableName := range w.tableOrder {
		t := w.tables[tableName]
		if len(t.entries) == 0 {
			continue
		}

		w.insertAll(tx, tableName, t)
		t.entries = nil
	}

	err = tx.Commit()
	if err != nil {
		panic(err)
	}

	w.entryCount = 0
}

func (w *sqlWriter) insertAll(tx *sql.Tx, tableName string, t *table) {
	stmt, err := tx.Prepare(insertStatement(tableName, t.entries[0]))
	if err != nil {
		panic(err)
	}
	defer stmt.Close()

	for _, entry := range t.entries {
		_, err := stmt.Exec(rowValues(entry)...)
		if err != nil {
			panic(err)
		}
	}
}

func (w *sqlWriter) Close() error {
	w.Flush()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	return w.DB.Close()
}

func (w *sqlWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

func insertStatement(tableName string, entry any) string {
	n := structs.Names(entry)
	for i := range n {
		n[i] = "?"
	}

	return "INSERT INTO " + tableName + " VALUES (" + strings.Join(n, ", ") + ")"
}

// rowValues converts the fields of an entry to the widest type of their kind,
// so that drivers with strict column types accept them.
func rowValues(entry any) []any {
	v := reflect.ValueOf(entry)
	values := make([]any, 0, v.NumField())

	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)

		switch {
		case f.CanInt():
			values = append(values, f.Int())
		case f.CanUint():
			values = append(values, f.Uint())
		case f.CanFloat():
			values = append(values, f.Float())
		case f.Kind() == reflect.Bool:
			values = append(values, f.Bool())
		default:
			values = append(values, f.String())
		}
	}

	return values
}
