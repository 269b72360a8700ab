package datarecording

import (
	"fmt"
	"reflect"

	// Database drivers a recorder can write to.
	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// The database/sql driver names a recorder can use.
const (
	// DriverSQLite3 is the cgo SQLite driver.
	DriverSQLite3 = "sqlite3"

	// DriverSQLite is the pure Go SQLite driver.
	DriverSQLite = "sqlite"

	// DriverMySQL writes to a MySQL server.
	DriverMySQL = "mysql"

	// DriverClickHouse writes to a ClickHouse server.
	DriverClickHouse = "clickhouse"
)

// Drivers returns the names of the supported drivers.
func Drivers() []string {
	return []string{DriverSQLite3, DriverSQLite, DriverMySQL, DriverClickHouse}
}

type dialect struct {
	name         string
	intType      string
	uintType     string
	floatType    string
	boolType     string
	stringType   string
	tableOptions string
}

func (d dialect) columnType(kind reflect.Kind) string {
	switch kind {
	case reflect.Bool:
		return d.boolType
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return d.intType
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64, reflect.Uintptr:
		return d.uintType
	case reflect.Float32, reflect.Float64:
		return d.floatType
	case reflect.String:
		return d.stringType
	default:
		panic(fmt.Sprintf("kind %s has no column type", kind))
	}
}

var sqliteDialect = dialect{
	name:       "sqlite",
	intType:    "INTEGER",
	uintType:   "INTEGER",
	floatType:  "REAL",
	boolType:   "INTEGER",
	stringType: "TEXT",
}

var mysqlDialect = dialect{
	name:       "mysql",
	intType:    "BIGINT",
	uintType:   "BIGINT UNSIGNED",
	floatType:  "DOUBLE",
	boolType:   "BOOLEAN",
	stringType: "TEXT",
}

var clickhouseDialect = dialect{
	name:         "clickhouse",
	intType:      "Int64",
	uintType:     "UInt64",
	floatType:    "Float64",
	boolType:     "Bool",
	stringType:   "String",
	tableOptions: " ENGINE = MergeTree ORDER BY tuple()",
}

func dialectOf(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite3, DriverSQLite:
		return sqliteDialect, nil
	case DriverMySQL:
		return mysqlDialect, nil
	case DriverClickHouse:
		return clickhouseDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Uintptr,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}
