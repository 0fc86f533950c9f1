package slave

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
)

var binlogFileHeader = []byte{0xfe, 'b', 'i', 'n'}

// FileStream reads events from a binlog file on disk with the same
// decoder the network stream uses. Offline counterpart of the dump
// stream, mainly for inspection tooling.
type FileStream struct {
	f        *os.File
	r        *reader
	checksum int
}

// OpenFile opens a binary log file and positions the stream at its
// first event.
func OpenFile(path string) (*FileStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		_ = f.Close()
		return nil, err
	}
	if !bytes.Equal(header, binlogFileHeader) {
		_ = f.Close()
		return nil, errf("%s is not a binlog file", path)
	}

	checksum, err := sniffChecksum(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(4, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &FileStream{f: f, checksum: checksum}, nil
}

// sniffChecksum inspects the format description event that starts the
// file. With CRC32 on, its trailer is the algorithm byte followed by
// four checksum bytes; otherwise the algorithm byte comes last.
func sniffChecksum(f *os.File) (int, error) {
	header := make([]byte, 19)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, err
	}
	if EventType(header[4]) != FORMAT_DESCRIPTION_EVENT {
		return 0, errf("binlog file does not start with a format description event")
	}
	eventSize := binary.LittleEndian.Uint32(header[9:13])
	if eventSize < 19 {
		return 0, ErrMalformedFrame
	}
	body := make([]byte, eventSize-19)
	if _, err := io.ReadFull(f, body); err != nil {
		return 0, err
	}
	if len(body) >= 5 && body[len(body)-5] == 0x01 {
		return 4, nil
	}
	return 0, nil
}

// NextEvent returns the next event, io.EOF at the end of the file.
func (fs *FileStream) NextEvent() (Event, error) {
	r := fs.r
	if r == nil {
		r = &reader{rd: fs.f, limit: -1}
		r.fde = FormatDescriptionEvent{BinlogVersion: 4}
		r.checksum = fs.checksum
		fs.r = r
	} else {
		r.limit += fs.checksum
		if err := r.drain(); err != nil {
			return Event{}, err
		}
		r.limit = -1
	}
	if !r.more() {
		return Event{}, io.EOF
	}
	return nextEvent(r)
}

// DecodeRows decodes the row images of a rows event returned by
// NextEvent, against a caller-supplied table layout.
func (fs *FileStream) DecodeRows(re *RowsEvent, tab *Table) ([]RowChange, error) {
	return re.decodeRows(fs.r, tab)
}

// TableOf builds a bare layout from a TABLE_MAP event alone, with
// positional column names. Useful for offline viewing where
// information_schema is not reachable.
func TableOf(e *TableMapEvent) *Table {
	tab := &Table{
		Database: e.Database,
		Table:    e.Table,
		Columns:  make([]Column, len(e.Columns)),
	}
	for i, mc := range e.Columns {
		name := mc.Name
		if name == "" {
			name = "@" + uintToString(uint64(i))
		}
		tab.Columns[i] = Column{
			Name:     name,
			Ordinal:  i,
			Type:     mc.Type,
			Meta:     mc.Meta,
			Nullable: mc.Nullable,
			Unsigned: mc.Unsigned,
		}
	}
	return tab
}

func (fs *FileStream) Close() error {
	return fs.f.Close()
}
