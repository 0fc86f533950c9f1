package slave

import (
	"strings"
)

// Column is one column of a mirrored table: the layout bytes from the
// latest TABLE_MAP merged with what registration read from
// information_schema (name, signedness, SET/ENUM members).
type Column struct {
	Name     string
	Ordinal  int
	Type     byte
	Meta     []byte
	Nullable bool
	Unsigned bool

	// declared members: position i names SET bit i, or ENUM index i+1
	SetMembers  []string
	EnumMembers []string
}

// Table is the descriptor the schema mirror keeps per live table-id.
type Table struct {
	Database string
	Table    string
	Columns  []Column
}

func (t *Table) column(i int) (*Column, bool) {
	if i < 0 || i >= len(t.Columns) {
		return nil, false
	}
	return &t.Columns[i], true
}

// columnInfo is what registration reads from information_schema for
// one column, in ordinal order.
type columnInfo struct {
	name       string
	columnType string // COLUMN_TYPE, e.g. "int(10) unsigned", "set('a','b')"
	nullable   bool
}

func (ci columnInfo) unsigned() bool {
	return strings.Contains(ci.columnType, "unsigned")
}

// members parses the member list of a set(...) or enum(...) COLUMN_TYPE.
func (ci columnInfo) members() []string {
	open := strings.IndexByte(ci.columnType, '(')
	end := strings.LastIndexByte(ci.columnType, ')')
	if open == -1 || end == -1 || end < open {
		return nil
	}
	var members []string
	for _, m := range strings.Split(ci.columnType[open+1:end], ",") {
		m = strings.TrimSpace(m)
		m = strings.TrimPrefix(m, "'")
		m = strings.TrimSuffix(m, "'")
		members = append(members, strings.ReplaceAll(m, "''", "'"))
	}
	return members
}

// schemaMirror tracks live table-ids for the registered tables. A row
// event is decodable only when a TABLE_MAP for its table-id has been
// seen on the current log and the registration-time column info is
// consistent with it.
type schemaMirror struct {
	tables map[uint64]*Table
	info   map[registryKey][]columnInfo
	stale  map[registryKey]bool
}

func newSchemaMirror() *schemaMirror {
	return &schemaMirror{
		tables: make(map[uint64]*Table),
		info:   make(map[registryKey][]columnInfo),
		stale:  make(map[registryKey]bool),
	}
}

func (m *schemaMirror) setColumnInfo(database, table string, info []columnInfo) {
	key := registryKey{database, table}
	m.info[key] = info
	delete(m.stale, key)
}

// markStale flags a table whose cached column info may no longer match
// the primary, typically after an observed DDL statement.
func (m *schemaMirror) markStale(database, table string) {
	key := registryKey{database, table}
	if _, ok := m.info[key]; ok {
		m.stale[key] = true
	}
}

func (m *schemaMirror) isStale(database, table string) bool {
	return m.stale[registryKey{database, table}]
}

// needsRefresh reports whether the table is marked stale or the
// TABLE_MAP column count differs from the cached column info, which also
// happens after an unobserved DDL. Column types are not compared, so a
// type change that keeps the column count is not detected here.
func (m *schemaMirror) needsRefresh(e *TableMapEvent) bool {
	key := registryKey{e.Database, e.Table}
	if m.stale[key] {
		return true
	}
	info, ok := m.info[key]
	if !ok {
		return false
	}
	return len(info) != len(e.Columns)
}

// upsert builds the descriptor for a TABLE_MAP event and replaces any
// previous mapping of its table-id. Returns nil when the table has no
// registration-time column info.
func (m *schemaMirror) upsert(e *TableMapEvent) *Table {
	info, ok := m.info[registryKey{e.Database, e.Table}]
	if !ok || len(info) != len(e.Columns) {
		delete(m.tables, e.TableID)
		return nil
	}
	tab := &Table{
		Database: e.Database,
		Table:    e.Table,
		Columns:  make([]Column, len(e.Columns)),
	}
	for i, mc := range e.Columns {
		col := Column{
			Name:     info[i].name,
			Ordinal:  i,
			Type:     mc.Type,
			Meta:     mc.Meta,
			Nullable: mc.Nullable,
			Unsigned: info[i].unsigned() || mc.Unsigned,
		}
		switch realType(mc.Type, mc.Meta) {
		case MYSQL_TYPE_SET:
			col.SetMembers = info[i].members()
		case MYSQL_TYPE_ENUM:
			col.EnumMembers = info[i].members()
		}
		tab.Columns[i] = col
	}
	m.tables[e.TableID] = tab
	return tab
}

func (m *schemaMirror) lookup(tableID uint64) *Table {
	return m.tables[tableID]
}

// dropAll discards every live table-id mapping, keeping the
// registration-time column info. Used on full resynchronization:
// table-ids are not stable across server restarts.
func (m *schemaMirror) dropAll() {
	m.tables = make(map[uint64]*Table)
}
