package slave

// TableMapEvent announces the layout of a table for the row events that
// follow it in the same log.
//
// https://dev.mysql.com/doc/internals/en/table-map-event.html
type TableMapEvent struct {
	TableID  uint64
	Flags    uint16
	Database string
	Table    string
	Columns  []MappedColumn

	defaultCharset []byte
	columnCharset  []byte
}

// MappedColumn is the per-column layout carried by a TABLE_MAP event.
// Name and Unsigned are filled only when the server logs full row
// metadata; otherwise the schema mirror supplies them.
type MappedColumn struct {
	Type     byte
	Meta     []byte
	Nullable bool
	Unsigned bool
	Name     string
}

func (e *TableMapEvent) decode(r *reader) error {
	e.TableID = r.int6()
	e.Flags = r.int2()
	_ = r.int1() // schema name length
	e.Database = r.stringNull()
	_ = r.int1() // table name length
	e.Table = r.stringNull()
	numCol := r.intN()
	if r.err != nil {
		return r.err
	}
	e.Columns = make([]MappedColumn, numCol)
	for i := range e.Columns {
		e.Columns[i].Type = r.int1()
	}

	_ = r.intN() // metadata block length
	for i, col := range e.Columns {
		switch col.Type {
		case MYSQL_TYPE_BLOB, MYSQL_TYPE_DOUBLE, MYSQL_TYPE_FLOAT, MYSQL_TYPE_GEOMETRY, MYSQL_TYPE_JSON,
			MYSQL_TYPE_TIME2, MYSQL_TYPE_DATETIME2, MYSQL_TYPE_TIMESTAMP2:
			e.Columns[i].Meta = r.bytes(1)
		case MYSQL_TYPE_VARCHAR, MYSQL_TYPE_BIT, MYSQL_TYPE_DECIMAL, MYSQL_TYPE_NEWDECIMAL,
			MYSQL_TYPE_SET, MYSQL_TYPE_ENUM, MYSQL_TYPE_STRING, MYSQL_TYPE_VAR_STRING:
			e.Columns[i].Meta = r.bytes(2)
		}
	}

	nullability := bitmap(r.bytes(bitmapSize(numCol)))
	if r.err != nil {
		return r.err
	}
	for i := range e.Columns {
		e.Columns[i].Nullable = nullability.isSet(i)
	}

	// optional metadata, logged since 8.0 depending on
	// binlog_row_metadata
	for r.more() {
		typ := r.int1()
		size := int(r.intN())
		if r.err != nil {
			break
		}
		switch typ {
		case 1: // signedness
			signedness := bitmap(r.bytes(size))
			n := 0
			for i := range e.Columns {
				switch e.Columns[i].Type {
				case MYSQL_TYPE_TINY, MYSQL_TYPE_SHORT, MYSQL_TYPE_INT24, MYSQL_TYPE_LONG, MYSQL_TYPE_LONGLONG,
					MYSQL_TYPE_FLOAT, MYSQL_TYPE_DOUBLE, MYSQL_TYPE_DECIMAL, MYSQL_TYPE_NEWDECIMAL:
					e.Columns[i].Unsigned = signedness.isSetBE(n)
					n++
				}
			}
		case 2:
			e.defaultCharset = r.bytes(size)
		case 3:
			e.columnCharset = r.bytes(size)
		case 4: // column names
			for i := range e.Columns {
				e.Columns[i].Name = r.stringN()
			}
		default:
			r.skip(size)
		}
	}
	return r.err
}

// bitmap ---

type bitmap []byte

func bitmapSize(numCol uint64) int {
	return int((numCol + 7) / 8)
}

// isSet reports bit i in MySQL's little-endian bit order, used by the
// nullability, columns-present and null bitmaps.
func (bm bitmap) isSet(i int) bool {
	return bm[i/8]>>(uint(i)%8)&1 == 1
}

// isSetBE reports bit i counted from the high bit, used by the
// signedness vector of the optional metadata block.
func (bm bitmap) isSetBE(i int) bool {
	return bm[i/8]&(1<<(7-uint(i)%8)) != 0
}
