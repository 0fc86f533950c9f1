package slave

import (
	"io"
	"time"
)

// Text protocol query support. The replication client uses it to read
// information_schema and SHOW MASTER STATUS; it is exported so embedders
// can reuse the same connection style for ad-hoc queries.
//
// https://dev.mysql.com/doc/internals/en/com-query-response.html

// Field is one cell of a text result row.
type Field struct {
	Type byte   // column type as declared by the server
	Data string // raw text value, empty for NULL
	Null bool
}

// Row maps column name to its cell.
type Row map[string]Field

// queryResponse holds one of okPacket, *ResultSet.
type queryResponse interface{}

func (c *conn) query(q string) (queryResponse, error) {
	c.seq = 0
	w := newWriter(c.netConn, &c.seq)
	w.int1(comQuery)
	w.string(q)
	if err := w.Close(); err != nil {
		return nil, err
	}
	r := newReader(c.netConn, &c.seq)
	marker, err := r.peek()
	if err != nil {
		return nil, err
	}
	switch marker {
	case okMarker:
		ok := okPacket{}
		if err := ok.decode(r, c.hs.capabilityFlags); err != nil {
			return nil, err
		}
		return ok, nil
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, c.hs.capabilityFlags); err != nil {
			return nil, err
		}
		return nil, ep.serverError()
	default:
		rs := ResultSet{}
		if err := rs.decode(r, c.hs.capabilityFlags); err != nil {
			return nil, err
		}
		return &rs, nil
	}
}

// queryRows collects the full result as strings, NULL as "".
func (c *conn) queryRows(q string) ([][]string, error) {
	resp, err := c.query(q)
	if err != nil {
		return nil, err
	}
	rs, ok := resp.(*ResultSet)
	if !ok {
		return nil, nil
	}
	var rows [][]string
	for {
		row, err := rs.NextRow()
		if err == io.EOF {
			return rows, nil
		} else if err != nil {
			return nil, err
		}
		cells := make([]string, len(row))
		for i, f := range row {
			cells[i] = f.Data
		}
		rows = append(rows, cells)
	}
}

// use runs a query and calls fn once per row.
func (c *conn) use(q string, fn func(Row) error) error {
	resp, err := c.query(q)
	if err != nil {
		return err
	}
	rs, ok := resp.(*ResultSet)
	if !ok {
		return nil
	}
	names := rs.Columns()
	for {
		row, err := rs.NextRow()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		m := make(Row, len(row))
		for i, f := range row {
			m[names[i]] = f
		}
		if err := fn(m); err != nil {
			return err
		}
	}
}

// columnDef is a column definition of a result set.
type columnDef struct {
	schema       string
	table        string // virtual table-name
	orgTable     string // physical table-name
	name         string // virtual column name
	orgName      string // physical column name
	charset      uint16
	columnLength uint32
	typ          uint8
	flags        uint16
	decimals     uint8
}

func (cd *columnDef) decode(r *reader, capabilities uint32) error {
	if capabilities&capProtocol41 == 0 {
		return errf("Protocol::ColumnDefinition320 not implemented")
	}
	_ = r.stringN() // catalog (always "def")
	cd.schema = r.stringN()
	cd.table = r.stringN()
	cd.orgTable = r.stringN()
	cd.name = r.stringN()
	cd.orgName = r.stringN()
	_ = r.intN() // length of the fixed fields (always 0x0c)
	cd.charset = r.int2()
	cd.columnLength = r.int4()
	cd.typ = r.int1()
	cd.flags = r.int2()
	cd.decimals = r.int1()
	_ = r.skip(2) // filler
	return r.err
}

// ResultSet iterates a text result lazily, one row packet at a time.
//
// https://dev.mysql.com/doc/internals/en/com-query-response.html#text-resultset
type ResultSet struct {
	r            *reader
	capabilities uint32
	columnDefs   []columnDef
}

func (rs *ResultSet) decode(r *reader, capabilities uint32) error {
	rs.r, rs.capabilities = r, capabilities

	ncol := r.intN()
	if r.err != nil {
		return r.err
	}
	if r.more() {
		return ErrMalformedFrame
	}
	for i := uint64(0); i < ncol; i++ {
		r.rd.(*packetReader).reset()
		cd := columnDef{}
		if err := cd.decode(r, capabilities); err != nil {
			return err
		}
		if r.more() {
			return ErrMalformedFrame
		}
		rs.columnDefs = append(rs.columnDefs, cd)
	}

	r.rd.(*packetReader).reset()
	eof := eofPacket{}
	return eof.decode(r, capabilities)
}

// Columns returns the column names in server order.
func (rs *ResultSet) Columns() []string {
	names := make([]string, len(rs.columnDefs))
	for i, cd := range rs.columnDefs {
		names[i] = cd.name
	}
	return names
}

// NextRow returns the next row, io.EOF after the last one.
func (rs *ResultSet) NextRow() ([]Field, error) {
	r := rs.r
	if r == nil { // statement without a result set
		return nil, io.EOF
	}
	r.rd.(*packetReader).reset()
	marker, err := r.peek()
	if err != nil {
		return nil, err
	}
	switch marker {
	case eofMarker:
		eof := eofPacket{}
		if err := eof.decode(r, rs.capabilities); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, rs.capabilities); err != nil {
			return nil, err
		}
		return nil, ep.serverError()
	default:
		row := make([]Field, len(rs.columnDefs))
		for i := range row {
			marker, err := r.peek()
			if err != nil {
				return nil, err
			}
			row[i].Type = rs.columnDefs[i].typ
			if marker == 0xfb {
				r.int1()
				row[i].Null = true
			} else {
				row[i].Data = r.stringN()
				if r.err != nil {
					return nil, r.err
				}
			}
		}
		return row, nil
	}
}

// QueryConn is a synchronous text-protocol client connection.
type QueryConn struct {
	c *conn
}

// ConnectQuery opens a text-protocol connection using the credentials
// of mi and issues `set names utf8`.
func ConnectQuery(mi MasterInfo) (*QueryConn, error) {
	c, err := dial(mi.Host, mi.Port, time.Duration(mi.ConnectTimeout)*time.Second)
	if err != nil {
		return nil, err
	}
	if err := c.authenticate(mi.User, mi.Password); err != nil {
		_ = c.close()
		return nil, err
	}
	if _, err := c.query("set names utf8"); err != nil {
		_ = c.close()
		return nil, err
	}
	return &QueryConn{c: c}, nil
}

// Query runs sql and returns a lazy row iterator. The result must be
// fully read before the connection is used again.
func (qc *QueryConn) Query(sql string) (*ResultSet, error) {
	resp, err := qc.c.query(sql)
	if err != nil {
		return nil, err
	}
	if rs, ok := resp.(*ResultSet); ok {
		return rs, nil
	}
	return &ResultSet{}, nil
}

// Exec runs sql and discards any result rows.
func (qc *QueryConn) Exec(sql string) error {
	resp, err := qc.c.query(sql)
	if err != nil {
		return err
	}
	if rs, ok := resp.(*ResultSet); ok {
		for {
			if _, err := rs.NextRow(); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// Use runs sql and calls fn once per row.
func (qc *QueryConn) Use(sql string, fn func(Row) error) error {
	return qc.c.use(sql, fn)
}

func (qc *QueryConn) Close() error {
	return qc.c.close()
}
