// Package warehouse builds the star schema from staged input rows and
// persists each table as partitioned Parquet.
//
// Staging tables and dimension tables live in a DuckDB session. The fact
// table is built from the persisted songs and artists output, so a run can
// rebuild songplays alone against previously materialized dimensions.
package warehouse

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/songlake/internal/duckdb"
)

// Column is an output column and its DuckDB type.
type Column struct {
	Name string
	Type string
}

// Table describes one output table.
type Table struct {
	Name        string
	Columns     []Column
	PartitionBy []string
}

// Output tables.
var (
	Songs = Table{
		Name: "songs",
		Columns: []Column{
			{"song_id", "VARCHAR"},
			{"title", "VARCHAR"},
			{"artist_id", "VARCHAR"},
			{"year", "INTEGER"},
			{"duration", "DOUBLE"},
		},
		PartitionBy: []string{"year", "artist_id"},
	}

	Artists = Table{
		Name: "artists",
		Columns: []Column{
			{"artist_id", "VARCHAR"},
			{"artist_name", "VARCHAR"},
			{"artist_location", "VARCHAR"},
			{"artist_latitude", "DOUBLE"},
			{"artist_longitude", "DOUBLE"},
		},
	}

	Users = Table{
		Name: "users",
		Columns: []Column{
			{"user_id", "VARCHAR"},
			{"first_name", "VARCHAR"},
			{"last_name", "VARCHAR"},
			{"gender", "VARCHAR"},
			{"level", "VARCHAR"},
		},
	}

	Time = Table{
		Name: "time",
		Columns: []Column{
			{"start_time", "BIGINT"},
			{"hour", "INTEGER"},
			{"day", "INTEGER"},
			{"week", "INTEGER"},
			{"month", "INTEGER"},
			{"year", "INTEGER"},
			{"weekday", "INTEGER"},
		},
		PartitionBy: []string{"year", "month"},
	}

	Songplays = Table{
		Name: "songplays",
		Columns: []Column{
			{"ts", "BIGINT"},
			{"user_id", "VARCHAR"},
			{"level", "VARCHAR"},
			{"artist_id", "VARCHAR"},
			{"session_id", "VARCHAR"},
			{"location", "VARCHAR"},
			{"user_agent", "VARCHAR"},
			{"year", "INTEGER"},
			{"month", "INTEGER"},
		},
		PartitionBy: []string{"year", "month"},
	}
)

// Tables lists every output table in build order.
var Tables = []Table{Songs, Artists, Users, Time, Songplays}

// Lookup returns the table with the given name.
func Lookup(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Relation returns the quoted DuckDB table name.
func (t Table) Relation() string {
	return duckdb.Ident(t.Name)
}

// ColumnNames returns the column names in order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Type returns the DuckDB type of the named column.
func (t Table) Type(name string) string {
	for _, c := range t.Columns {
		if c.Name == name {
			return c.Type
		}
	}
	return ""
}

// Partitioned reports whether the table is written with partition
// directories.
func (t Table) Partitioned() bool {
	return len(t.PartitionBy) > 0
}

// DDL returns a CREATE OR REPLACE TABLE statement for the table.
func (t Table) DDL() string {
	return createTable(t.Relation(), t.Columns)
}

// EmptySelect returns a typed query with the table's columns and no rows.
func (t Table) EmptySelect() string {
	parts := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		parts[i] = fmt.Sprintf("CAST(NULL AS %s) AS %s", c.Type, duckdb.Ident(c.Name))
	}
	return "SELECT " + strings.Join(parts, ", ") + " WHERE false"
}

// HiveTypes returns the hive_types argument for reading the table's
// partition columns back with their declared types.
func (t Table) HiveTypes() string {
	parts := make([]string, len(t.PartitionBy))
	for i, p := range t.PartitionBy {
		parts[i] = fmt.Sprintf("%s: %s", duckdb.Literal(p), t.Type(p))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func createTable(relation string, cols []Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = duckdb.Ident(c.Name) + " " + c.Type
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", relation, strings.Join(defs, ", "))
}

func quotedList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = duckdb.Ident(n)
	}
	return strings.Join(quoted, ", ")
}
