package slave

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Event stream helpers: raw (unframed) events, binlog version 4, no
// checksum, the way they appear inside a binlog file.

func rawEvent(typ EventType, nextPos uint32, body []byte) []byte {
	size := uint32(19 + len(body))
	h := []byte{
		0x11, 0x22, 0x33, 0x44, // timestamp
		byte(typ),
		0x01, 0x00, 0x00, 0x00, // server id
		byte(size), byte(size >> 8), byte(size >> 16), byte(size >> 24),
		byte(nextPos), byte(nextPos >> 8), byte(nextPos >> 16), byte(nextPos >> 24),
		0x00, 0x00, // flags
	}
	return append(h, body...)
}

func tableMapBody(tableID uint64, db, table string, colTypes []byte, meta []byte, nullBits byte) []byte {
	var b []byte
	for i := 0; i < 6; i++ {
		b = append(b, byte(tableID>>(8*i)))
	}
	b = append(b, 0x00, 0x00) // flags
	b = append(b, byte(len(db)))
	b = append(b, db...)
	b = append(b, 0x00)
	b = append(b, byte(len(table)))
	b = append(b, table...)
	b = append(b, 0x00)
	b = append(b, byte(len(colTypes))) // lenenc column count
	b = append(b, colTypes...)
	b = append(b, byte(len(meta))) // lenenc metadata length
	b = append(b, meta...)
	b = append(b, nullBits)
	return b
}

func rowsBody(typ EventType, tableID uint64, numCol int, present []byte, rows []byte) []byte {
	var b []byte
	for i := 0; i < 6; i++ {
		b = append(b, byte(tableID>>(8*i)))
	}
	b = append(b, 0x00, 0x00) // flags
	switch typ {
	case WRITE_ROWS_EVENTv2, UPDATE_ROWS_EVENTv2, DELETE_ROWS_EVENTv2:
		b = append(b, 0x02, 0x00) // extra data length, none
	}
	b = append(b, byte(numCol)) // lenenc
	b = append(b, present...)
	if typ.IsUpdateRows() {
		b = append(b, present...)
	}
	return append(b, rows...)
}

func streamReader(events ...[]byte) *reader {
	r := &reader{rd: bytes.NewReader(bytes.Join(events, nil)), limit: -1}
	r.fde = FormatDescriptionEvent{BinlogVersion: 4}
	return r
}

func nextStreamEvent(t *testing.T, r *reader) Event {
	t.Helper()
	if r.limit >= 0 {
		require.NoError(t, r.drain())
		r.limit = -1
	}
	ev, err := nextEvent(r)
	require.NoError(t, err)
	return ev
}

func intTestTable() *Table {
	return &Table{
		Database: "test",
		Table:    "test",
		Columns: []Column{
			{Name: "value", Type: MYSQL_TYPE_LONG},
		},
	}
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func TestNextEvent_TableMap(t *testing.T) {
	ev := nextStreamEvent(t, streamReader(
		rawEvent(TABLE_MAP_EVENT, 219, tableMapBody(23, "test", "test", []byte{MYSQL_TYPE_LONG}, nil, 0x00)),
	))
	require.Equal(t, TABLE_MAP_EVENT, ev.Header.EventType)
	tme, ok := ev.Data.(*TableMapEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(23), tme.TableID)
	assert.Equal(t, "test", tme.Database)
	assert.Equal(t, "test", tme.Table)
	require.Len(t, tme.Columns, 1)
	assert.Equal(t, byte(MYSQL_TYPE_LONG), tme.Columns[0].Type)
	assert.False(t, tme.Columns[0].Nullable)
	assert.Equal(t, uint32(219), ev.Header.NextPos)
}

func TestNextEvent_WriteRows(t *testing.T) {
	rows := append([]byte{0x00}, le32(12321)...) // null bitmap, then the value
	r := streamReader(
		rawEvent(WRITE_ROWS_EVENTv2, 300, rowsBody(WRITE_ROWS_EVENTv2, 23, 1, []byte{0x01}, rows)),
	)
	ev := nextStreamEvent(t, r)
	re, ok := ev.Data.(*RowsEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(23), re.TableID)
	assert.Equal(t, Insert, re.Kind())

	changes, err := re.decodeRows(r, intTestTable())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].Before, "insert must not carry a before image")
	require.NotNil(t, changes[0].After)
	assert.Equal(t, int32(12321), changes[0].After["value"].Value)
}

func TestNextEvent_UpdateRows(t *testing.T) {
	rows := append([]byte{0x00}, le32(1)...)    // before image
	rows = append(rows, 0x00)                   // after null bitmap
	rows = append(rows, le32(2)...)             // after image
	r := streamReader(
		rawEvent(UPDATE_ROWS_EVENTv1, 300, rowsBody(UPDATE_ROWS_EVENTv1, 23, 1, []byte{0x01}, rows)),
	)
	ev := nextStreamEvent(t, r)
	re := ev.Data.(*RowsEvent)
	assert.Equal(t, Update, re.Kind())

	changes, err := re.decodeRows(r, intTestTable())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.NotNil(t, changes[0].Before)
	require.NotNil(t, changes[0].After)
	assert.Equal(t, int32(1), changes[0].Before["value"].Value)
	assert.Equal(t, int32(2), changes[0].After["value"].Value)

	// update images carry the same column set
	for name := range changes[0].Before {
		_, ok := changes[0].After[name]
		assert.True(t, ok, "column %s missing from after image", name)
	}
}

func TestNextEvent_DeleteRows(t *testing.T) {
	rows := append([]byte{0x00}, le32(777)...)
	r := streamReader(
		rawEvent(DELETE_ROWS_EVENTv1, 300, rowsBody(DELETE_ROWS_EVENTv1, 23, 1, []byte{0x01}, rows)),
	)
	ev := nextStreamEvent(t, r)
	re := ev.Data.(*RowsEvent)
	assert.Equal(t, Delete, re.Kind())

	changes, err := re.decodeRows(r, intTestTable())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].After, "delete must not carry an after image")
	require.NotNil(t, changes[0].Before)
	assert.Equal(t, int32(777), changes[0].Before["value"].Value)
}

func TestNextEvent_NullColumn(t *testing.T) {
	rows := []byte{0x01} // null bitmap: first present column is NULL
	r := streamReader(
		rawEvent(WRITE_ROWS_EVENTv1, 300, rowsBody(WRITE_ROWS_EVENTv1, 23, 1, []byte{0x01}, rows)),
	)
	ev := nextStreamEvent(t, r)
	re := ev.Data.(*RowsEvent)
	changes, err := re.decodeRows(r, intTestTable())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	cell, ok := changes[0].After["value"]
	require.True(t, ok)
	assert.Nil(t, cell.Value)
}

func TestNextEvent_MultipleRows(t *testing.T) {
	var rows []byte
	for _, v := range []uint32{1, 2, 3} {
		rows = append(rows, 0x00)
		rows = append(rows, le32(v)...)
	}
	r := streamReader(
		rawEvent(WRITE_ROWS_EVENTv1, 300, rowsBody(WRITE_ROWS_EVENTv1, 23, 1, []byte{0x01}, rows)),
	)
	ev := nextStreamEvent(t, r)
	re := ev.Data.(*RowsEvent)
	changes, err := re.decodeRows(r, intTestTable())
	require.NoError(t, err)
	require.Len(t, changes, 3)
	for i, want := range []int32{1, 2, 3} {
		assert.Equal(t, want, changes[i].After["value"].Value)
	}
}

func TestNextEvent_RotateAndXid(t *testing.T) {
	rotateBody := append([]byte{4, 0, 0, 0, 0, 0, 0, 0}, "binlog.000002"...)
	xidBody := []byte{0x2a, 0, 0, 0, 0, 0, 0, 0}
	r := streamReader(
		rawEvent(ROTATE_EVENT, 0, rotateBody),
		rawEvent(XID_EVENT, 500, xidBody),
	)

	ev := nextStreamEvent(t, r)
	re, ok := ev.Data.(*RotateEvent)
	require.True(t, ok)
	assert.Equal(t, "binlog.000002", re.NextBinlog)
	assert.Equal(t, uint64(4), re.Position)

	ev = nextStreamEvent(t, r)
	xe, ok := ev.Data.(*XidEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(0x2a), xe.Xid)
	assert.Equal(t, uint32(500), ev.Header.NextPos)
}

func TestNextEvent_QueryEvent(t *testing.T) {
	body := []byte{
		0x01, 0x00, 0x00, 0x00, // slave proxy id
		0x00, 0x00, 0x00, 0x00, // execution time
		0x04,       // schema length
		0x00, 0x00, // error code
		0x00, 0x00, // status vars length
	}
	body = append(body, "test"...)
	body = append(body, 0x00)
	body = append(body, "BEGIN"...)
	r := streamReader(rawEvent(QUERY_EVENT, 100, body))
	ev := nextStreamEvent(t, r)
	qe, ok := ev.Data.(*QueryEvent)
	require.True(t, ok)
	assert.Equal(t, "test", qe.Schema)
	assert.Equal(t, "BEGIN", qe.Query)
}

func TestNextEvent_UnknownEventSkipped(t *testing.T) {
	r := streamReader(
		rawEvent(HEARTBEAT_EVENT, 0, []byte("binlog.000001")),
		rawEvent(XID_EVENT, 200, []byte{1, 0, 0, 0, 0, 0, 0, 0}),
	)
	ev := nextStreamEvent(t, r)
	assert.Equal(t, HEARTBEAT_EVENT, ev.Header.EventType)
	assert.Nil(t, ev.Data)

	ev = nextStreamEvent(t, r)
	assert.Equal(t, XID_EVENT, ev.Header.EventType)
}

// checksummedEvent builds an event whose EventSize covers a CRC32
// trailer and stamps the trailer with the sum of the preceding bytes.
func checksummedEvent(typ EventType, nextPos uint32, body []byte) []byte {
	ev := rawEvent(typ, nextPos, append(append([]byte(nil), body...), 0, 0, 0, 0))
	sum := crc32.ChecksumIEEE(ev[:len(ev)-4])
	for i := 0; i < 4; i++ {
		ev[len(ev)-4+i] = byte(sum >> (8 * i))
	}
	return ev
}

// readChecksummed runs one event through a hash-armed reader and
// returns the running sum alongside the stored trailer.
func readChecksummed(t *testing.T, ev []byte) (got, want uint32) {
	t.Helper()
	r := &reader{rd: bytes.NewReader(ev), limit: -1}
	r.fde = FormatDescriptionEvent{BinlogVersion: 4}
	r.checksum = 4
	r.hash = crc32.NewIEEE()
	parsed, err := nextEvent(r)
	require.NoError(t, err)
	require.IsType(t, &XidEvent{}, parsed.Data)
	require.NoError(t, r.drain())
	got = r.hash.Sum32()
	r.hash = nil
	r.limit = -1
	want = r.int4()
	require.NoError(t, r.err)
	return got, want
}

func TestReader_EventChecksum(t *testing.T) {
	ev := checksummedEvent(XID_EVENT, 500, []byte{0x2a, 0, 0, 0, 0, 0, 0, 0})
	got, want := readChecksummed(t, ev)
	assert.Equal(t, want, got, "running sum must match the trailer")
}

func TestReader_EventChecksumDetectsCorruption(t *testing.T) {
	ev := checksummedEvent(XID_EVENT, 500, []byte{0x2a, 0, 0, 0, 0, 0, 0, 0})
	ev[20] ^= 0xff // flip a body byte, keep the trailer
	got, want := readChecksummed(t, ev)
	assert.NotEqual(t, want, got, "corruption must break the sum")
}

func TestEventKindOf(t *testing.T) {
	assert.Equal(t, Insert, eventKindOf(WRITE_ROWS_EVENTv0))
	assert.Equal(t, Insert, eventKindOf(WRITE_ROWS_EVENTv2))
	assert.Equal(t, Update, eventKindOf(UPDATE_ROWS_EVENTv1))
	assert.Equal(t, Delete, eventKindOf(DELETE_ROWS_EVENTv2))
	assert.Equal(t, None, eventKindOf(XID_EVENT))
}
