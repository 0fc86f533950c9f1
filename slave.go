package slave

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Slave streams the primary's binary log, decodes row events for the
// registered tables and hands them to callbacks on the read loop.
//
// One goroutine owns the connection, decoders and dispatch; other
// goroutines may only replace master info before RunUntil, read
// LastBinlog, and interrupt a blocked read with CloseConnection.
type Slave struct {
	ext      ExtState
	log      zerolog.Logger
	serverID uint32

	mu  sync.Mutex // guards mi, cur
	mi  MasterInfo
	cur *conn

	reg     registry
	mirror  *schemaMirror
	ignored map[uint64]struct{} // table-ids seen but not registered

	// read-loop state
	logName   string
	committed uint64
}

// Option configures a Slave.
type Option func(*Slave)

// WithLogger sets the diagnostics logger. The default discards.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Slave) { s.log = log }
}

// WithServerID sets the server id this client reports to the primary.
// It must differ from every other replica of the same primary.
func WithServerID(id uint32) Option {
	return func(s *Slave) { s.serverID = id }
}

// New creates a Slave reporting state through ext.
func New(ext ExtState, opts ...Option) *Slave {
	s := &Slave{
		ext:      ext,
		log:      zerolog.Nop(),
		serverID: 4,
		reg:      make(registry),
		mirror:   newSchemaMirror(),
		ignored:  make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetMasterInfo replaces the connection target and resume position.
// Setting an explicit LogName/LogPos before RunUntil rewinds the
// stream to that position.
func (s *Slave) SetMasterInfo(mi MasterInfo) {
	s.mu.Lock()
	s.mi = mi
	s.mu.Unlock()
}

// MasterInfo returns the current master info including the last
// committed position.
func (s *Slave) MasterInfo() MasterInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mi
}

// LastBinlog returns the last committed position.
func (s *Slave) LastBinlog() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mi.position()
}

// SetCallback registers cb for (database, table), replacing any
// previous entry. Only change kinds in filter are delivered.
func (s *Slave) SetCallback(database, table string, cb Callback, filter EventKind) {
	s.reg.set(database, table, cb, filter)
}

// Init resolves column names and order for every registered table via
// information_schema and picks the starting position: explicit master
// info wins, then the persisted position, then the primary's current
// one. It fails fast when a registered table does not exist.
func (s *Slave) Init() error {
	s.mu.Lock()
	mi := s.mi.withDefaults()
	s.mu.Unlock()
	if mi.Host == "" || mi.User == "" {
		return ErrInvalidConfig
	}

	qc, err := ConnectQuery(mi)
	if err != nil {
		return err
	}
	defer qc.Close()

	for key := range s.reg {
		info, err := resolveColumns(qc, key.database, key.table)
		if err != nil {
			return err
		}
		if len(info) == 0 {
			return &UnknownTableError{Database: key.database, Table: key.table}
		}
		s.mirror.setColumnInfo(key.database, key.table, info)
		s.ext.InitTableCount(key.table)
	}

	if mi.LogName == "" {
		if name, pos, ok := s.ext.LoadMasterInfo(); ok {
			mi.LogName, mi.LogPos = name, pos
		} else {
			name, pos, err := masterStatus(qc)
			if err != nil {
				return err
			}
			mi.LogName, mi.LogPos = name, pos
		}
	}

	s.mu.Lock()
	s.mi = mi
	s.mu.Unlock()
	s.logName, s.committed = mi.LogName, mi.LogPos
	return nil
}

// RunUntil is the blocking main loop. The stop predicate is evaluated
// between events and around reconnects; returning true ends the loop.
// It returns nil on stop, or the first callback error.
func (s *Slave) RunUntil(stop func() bool) error {
	for {
		if stop() {
			return nil
		}
		c, err := s.connect()
		if err != nil {
			s.log.Warn().Err(err).Str("log", s.logName).Msg("connect failed")
			if s.sleepRetry(stop) {
				return nil
			}
			continue
		}

		err = s.stream(c, stop)
		s.mu.Lock()
		s.cur = nil
		s.mu.Unlock()
		_ = c.close()

		if err == nil { // stopped
			return nil
		}
		if errors.Is(err, errCallback) {
			return err
		}
		s.log.Warn().Err(err).Str("log", s.logName).Uint64("pos", s.committed).Msg("stream interrupted")
		if stop() {
			return nil
		}
		if s.sleepRetry(stop) {
			return nil
		}
	}
}

// CloseConnection interrupts the current read. Safe to call from any
// goroutine, including concurrently with a blocked read; the read
// loop observes the failure and re-evaluates its stop predicate.
func (s *Slave) CloseConnection() {
	s.mu.Lock()
	c := s.cur
	s.mu.Unlock()
	if c != nil {
		_ = c.close()
	}
}

// errCallback marks an error returned by a user callback.
var errCallback = errors.New("slave: callback failed")

func (s *Slave) sleepRetry(stop func() bool) bool {
	smi := s.MasterInfo()
	retry := time.Duration(smi.withDefaults().ConnectRetry) * time.Second
	deadline := time.Now().Add(retry)
	for time.Now().Before(deadline) {
		if stop() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return stop()
}

// connect dials, authenticates, registers as a replica and requests
// the dump from the last committed position.
func (s *Slave) connect() (*conn, error) {
	s.ext.SetConnecting()
	mi0 := s.MasterInfo()
	mi := mi0.withDefaults()

	c, err := dial(mi.Host, mi.Port, time.Duration(mi.ConnectTimeout)*time.Second)
	if err != nil {
		return nil, err
	}
	if err := c.authenticate(mi.User, mi.Password); err != nil {
		_ = c.close()
		return nil, err
	}
	if err := c.register(s.serverID, mi.Port); err != nil {
		_ = c.close()
		return nil, err
	}

	s.logName, s.committed = mi.LogName, mi.LogPos
	pos := s.committed
	if pos < 4 {
		pos = 4
	}
	if err := c.requestDump(s.serverID, s.logName, uint32(pos)); err != nil {
		_ = c.close()
		return nil, err
	}

	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()
	s.log.Info().Str("log", s.logName).Uint64("pos", pos).Msg("streaming binlog")
	return c, nil
}

// stream reads events until a transport error (returned for the
// caller to reconnect), a fatal dispatch error, or stop.
func (s *Slave) stream(c *conn, stop func() bool) error {
	for {
		if stop() {
			return nil
		}
		ev, err := c.nextEvent()
		if err != nil {
			if err == io.EOF {
				return errf("event stream ended")
			}
			return err
		}
		if err := s.handleEvent(c, ev); err != nil {
			return err
		}
	}
}

func (s *Slave) handleEvent(c *conn, ev Event) error {
	h := ev.Header
	if h.NextPos != 0 {
		s.ext.SetLastEventTimePos(time.Unix(int64(h.Timestamp), 0), uint64(h.NextPos))
	}

	switch data := ev.Data.(type) {
	case *FormatDescriptionEvent:
		s.log.Debug().Uint16("binlogVersion", data.BinlogVersion).Str("serverVersion", data.ServerVersion).Msg("format description")

	case *RotateEvent:
		s.logName = data.NextBinlog
		s.committed = data.Position
		s.commit()

	case *XidEvent:
		if h.NextPos != 0 {
			s.committed = uint64(h.NextPos)
		}
		s.commit()

	case *QueryEvent:
		s.handleQuery(data)

	case *TableMapEvent:
		if !s.reg.watches(data.Database, data.Table) {
			s.ignored[data.TableID] = struct{}{}
			return nil
		}
		delete(s.ignored, data.TableID)
		if s.mirror.needsRefresh(data) {
			s.refreshColumns(data.Database, data.Table)
		}
		if s.mirror.upsert(data) == nil {
			s.log.Warn().Str("db", data.Database).Str("table", data.Table).
				Msg("table map does not match column info, rows will be skipped")
		}

	case *RowsEvent:
		return s.handleRows(c, data)
	}
	return nil
}

// commit publishes the committed position: master info, the external
// state hook, and its durable copy.
func (s *Slave) commit() {
	s.mu.Lock()
	s.mi.LogName, s.mi.LogPos = s.logName, s.committed
	s.mu.Unlock()
	s.ext.SetMasterLogNamePos(s.logName, s.committed)
	if err := s.ext.SaveMasterInfo(); err != nil {
		s.log.Error().Err(err).Msg("persisting master info failed")
	}
}

func (s *Slave) handleQuery(qe *QueryEvent) {
	q := strings.TrimSpace(qe.Query)
	if strings.EqualFold(q, "BEGIN") {
		return
	}
	if db, table, ok := ddlTarget(q, qe.Schema); ok && s.reg.watches(db, table) {
		s.log.Info().Str("db", db).Str("table", table).Str("query", q).Msg("ddl observed, column info marked stale")
		s.mirror.markStale(db, table)
	}
}

// refreshColumns re-reads information_schema for one table over a
// fresh query connection. On failure the old info is kept; the next
// TABLE_MAP retries.
func (s *Slave) refreshColumns(database, table string) {
	rmi := s.MasterInfo()
	qc, err := ConnectQuery(rmi.withDefaults())
	if err != nil {
		s.log.Error().Err(err).Msg("column refresh connect failed")
		return
	}
	defer qc.Close()
	info, err := resolveColumns(qc, database, table)
	if err != nil || len(info) == 0 {
		s.log.Error().Err(err).Str("db", database).Str("table", table).Msg("column refresh failed")
		return
	}
	s.mirror.setColumnInfo(database, table, info)
}

func (s *Slave) handleRows(c *conn, re *RowsEvent) error {
	tab := s.mirror.lookup(re.TableID)
	if tab == nil {
		if _, ok := s.ignored[re.TableID]; !ok {
			s.log.Warn().Err(errSchemaMiss(re.TableID)).Msg("rows event skipped")
		}
		return nil
	}
	kind := re.Kind()
	cb := s.reg.match(tab.Database, tab.Table, kind)

	changes, err := c.decodeRows(re, tab)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			s.log.Warn().Err(err).Str("db", tab.Database).Str("table", tab.Table).Msg("rows event skipped")
			return nil
		}
		return err
	}
	if cb == nil {
		return nil
	}
	for i := range changes {
		rs := RecordSet{
			Database: tab.Database,
			Table:    tab.Table,
			Kind:     kind,
			Before:   changes[i].Before,
			After:    changes[i].After,
		}
		s.ext.IncTableCount(tab.Table)
		if err := cb(&rs); err != nil {
			return errors.Join(errCallback, err)
		}
	}
	return nil
}

// decodeRows pulls the row images of re off the event stream.
func (c *conn) decodeRows(re *RowsEvent, tab *Table) ([]RowChange, error) {
	return re.decodeRows(c.binlogReader, tab)
}

// resolveColumns reads name, declared type and nullability for every
// column of a table, in ordinal order.
func resolveColumns(qc *QueryConn, database, table string) ([]columnInfo, error) {
	q := "select COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE" +
		" from information_schema.columns" +
		" where TABLE_SCHEMA='" + escapeSQL(database) + "'" +
		" and TABLE_NAME='" + escapeSQL(table) + "'" +
		" order by ORDINAL_POSITION"
	var info []columnInfo
	err := qc.Use(q, func(row Row) error {
		info = append(info, columnInfo{
			name:       row["COLUMN_NAME"].Data,
			columnType: row["COLUMN_TYPE"].Data,
			nullable:   strings.EqualFold(row["IS_NULLABLE"].Data, "YES"),
		})
		return nil
	})
	return info, err
}

// masterStatus reads the primary's current position.
func masterStatus(qc *QueryConn) (string, uint64, error) {
	var name string
	var pos uint64
	found := false
	err := qc.Use("SHOW MASTER STATUS", func(row Row) error {
		name = row["File"].Data
		pos = parseUint(row["Position"].Data)
		found = true
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	if !found {
		return "", 0, errf("SHOW MASTER STATUS returned no rows, is binary logging enabled?")
	}
	return name, pos, nil
}

func parseUint(s string) uint64 {
	var v uint64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		v = v*10 + uint64(s[i]-'0')
	}
	return v
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", "''")
}

// ddlTarget recognizes the statements that change a table's layout and
// returns the table they act on. Only the statement head is inspected;
// row-based streams carry DDL as plain text queries.
func ddlTarget(q, defaultDB string) (database, table string, ok bool) {
	fields := strings.Fields(q)
	if len(fields) < 2 {
		return "", "", false
	}
	verb := strings.ToUpper(fields[0])
	var name string
	switch verb {
	case "ALTER", "RENAME":
		if len(fields) >= 3 && strings.EqualFold(fields[1], "TABLE") {
			name = fields[2]
		}
	case "DROP", "CREATE", "TRUNCATE":
		i := 1
		for i < len(fields) {
			switch strings.ToUpper(fields[i]) {
			case "TABLE", "TEMPORARY", "IF", "NOT", "EXISTS":
				i++
				continue
			}
			break
		}
		// DROP and CREATE need the TABLE keyword; TRUNCATE may omit it
		if i < len(fields) && (i > 1 || verb == "TRUNCATE") {
			name = fields[i]
		}
	default:
		return "", "", false
	}
	if name == "" {
		return "", "", false
	}
	name = strings.TrimSuffix(name, ";")
	name = strings.ReplaceAll(name, "`", "")
	if i := strings.IndexByte(name, '('); i != -1 {
		name = name[:i]
	}
	if db, tbl, found := strings.Cut(name, "."); found {
		return db, tbl, true
	}
	return defaultDB, name, true
}
