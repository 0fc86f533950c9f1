package slave

import (
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"strconv"
	"time"
)

// MySQL commands used by this package.
const (
	comQuery         = 0x03
	comRegisterSlave = 0x15
	comBinlogDump    = 0x12
)

// conn is a single connection to the primary, usable either for text
// protocol queries or, after requestDump, as a binlog event stream.
type conn struct {
	netConn net.Conn
	seq     uint8
	hs      handshake

	binlogReader *reader
	checksum     int // binlog_checksum trailer size, 0 or 4
}

// dial connects to the primary and reads the server greeting.
func dial(host string, port uint16, timeout time.Duration) (*conn, error) {
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))
	netConn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := netConn.(*net.TCPConn); ok {
		if err := tc.SetKeepAlive(true); err != nil {
			_ = netConn.Close()
			return nil, err
		}
	}
	var seq uint8
	r := newReader(netConn, &seq)
	hs := handshake{}
	if err := hs.decode(r); err != nil {
		_ = netConn.Close()
		return nil, err
	}
	// unset the features we don't support
	hs.capabilityFlags &= ^uint32(capSessionTrack)
	return &conn{netConn: netConn, seq: seq, hs: hs}, nil
}

// authenticate performs mysql_native_password authentication,
// following an auth-switch request if the server sends one.
func (c *conn) authenticate(username, password string) error {
	switch c.hs.authPluginName {
	case "", "mysql_native_password":
	default:
		return fmt.Errorf("%w: unsupported auth plugin %q", ErrProtocol, c.hs.authPluginName)
	}
	err := c.write(handshakeResponse41{
		capabilityFlags: capLongFlag | capSecureConnection,
		maxPacketSize:   maxPacketSize,
		characterSet:    c.hs.characterSet,
		username:        username,
		authResponse:    scramblePassword([]byte(password), c.hs.authPluginData),
		authPluginName:  "mysql_native_password",
	})
	if err != nil {
		return err
	}

	switched := false
	for {
		r := newReader(c.netConn, &c.seq)
		marker, err := r.peek()
		if err != nil {
			return err
		}
		switch marker {
		case okMarker:
			return r.drain()
		case errMarker:
			ep := errPacket{}
			if err := ep.decode(r, c.hs.capabilityFlags); err != nil {
				return err
			}
			return ep.serverError()
		case eofMarker:
			if switched {
				return errf("auth switch requested more than once")
			}
			switched = true
			r.int1()
			plugin := r.stringNull()
			scramble := r.bytesEOF()
			if r.err != nil {
				return r.err
			}
			if plugin != "mysql_native_password" {
				return errf("unsupported auth plugin %q", plugin)
			}
			if len(scramble) > 0 && scramble[len(scramble)-1] == 0 {
				scramble = scramble[:len(scramble)-1]
			}
			w := newWriter(c.netConn, &c.seq)
			_, _ = w.Write(scramblePassword([]byte(password), scramble))
			if err := w.Close(); err != nil {
				return err
			}
		default:
			return ErrMalformedFrame
		}
	}
}

func (c *conn) write(p interface{ writeTo(w *writer) }) error {
	w := newWriter(c.netConn, &c.seq)
	return w.writeClose(p)
}

func (c *conn) close() error {
	return c.netConn.Close()
}

func (c *conn) binlogVersion() (uint16, error) {
	sv, err := newServerVersion(c.hs.serverVersion)
	if err != nil {
		return 0, err
	}
	return sv.binlogVersion(), nil
}

// negotiateChecksum captures the binlog_checksum system variable and,
// when set, tells the server this client understands the trailer.
func (c *conn) negotiateChecksum() error {
	rows, err := c.queryRows(`show global variables like 'binlog_checksum'`)
	if err != nil {
		return err
	}
	c.checksum = 0
	if len(rows) > 0 && rows[0][1] != "" && rows[0][1] != "NONE" {
		if _, err := c.query(`set @master_binlog_checksum = @@global.binlog_checksum`); err != nil {
			return err
		}
		c.checksum = 4
	}
	return nil
}

// registerSlave announces this client in SHOW SLAVE HOSTS. Host, user
// and password of the report are left empty.
//
// https://dev.mysql.com/doc/internals/en/com-register-slave.html
type registerSlave struct {
	serverID uint32
	port     uint16
}

func (p registerSlave) writeTo(w *writer) {
	w.int1(comRegisterSlave)
	w.int4(p.serverID)
	w.string1("") // hostname
	w.string1("") // user
	w.string1("") // password
	w.int2(p.port)
	w.int4(0) // replication rank
	w.int4(0) // master id
}

// https://dev.mysql.com/doc/internals/en/com-binlog-dump.html
type binlogDump struct {
	binlogPos      uint32
	flags          uint16
	serverID       uint32
	binlogFilename string
}

func (p binlogDump) writeTo(w *writer) {
	w.int1(comBinlogDump)
	w.int4(p.binlogPos)
	w.int2(p.flags)
	w.int4(p.serverID)
	w.string(p.binlogFilename)
}

func (c *conn) register(serverID uint32, port uint16) error {
	c.seq = 0
	if err := c.write(registerSlave{serverID: serverID, port: port}); err != nil {
		return err
	}
	return c.readOkErr()
}

// requestDump asks the primary to stream the binlog from the given
// position. After it succeeds the connection carries only events.
func (c *conn) requestDump(serverID uint32, file string, pos uint32) error {
	if err := c.negotiateChecksum(); err != nil {
		return err
	}
	c.seq = 0
	return c.write(binlogDump{
		binlogPos:      pos,
		flags:          0,
		serverID:       serverID,
		binlogFilename: file,
	})
}

func (c *conn) readOkErr() error {
	r := newReader(c.netConn, &c.seq)
	marker, err := r.peek()
	if err != nil {
		return err
	}
	switch marker {
	case okMarker:
		return r.drain()
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, c.hs.capabilityFlags); err != nil {
			return err
		}
		return ep.serverError()
	default:
		return ErrMalformedFrame
	}
}

// nextEvent reads one event packet from the dump stream and decodes it.
func (c *conn) nextEvent() (Event, error) {
	r := c.binlogReader
	if r == nil {
		v, err := c.binlogVersion()
		if err != nil {
			return Event{}, err
		}
		r = newReader(c.netConn, &c.seq)
		r.fde = FormatDescriptionEvent{BinlogVersion: v}
		r.checksum = c.checksum
		c.binlogReader = r
	} else {
		if err := r.drain(); err != nil {
			return Event{}, errf("draining event: %v", err)
		}
		if r.checksum > 0 {
			got := r.hash.Sum32()
			r.hash = nil // the trailer itself is not part of the sum
			r.limit = -1
			want := r.int4()
			if r.err != nil {
				return Event{}, r.err
			}
			if got != want {
				return Event{}, fmt.Errorf("%w: checksum failed got=%d want=%d", ErrProtocol, got, want)
			}
		}
		r.limit = -1
		r.rd = &packetReader{rd: c.netConn, seq: &c.seq}
	}

	marker, err := r.peek()
	if err != nil {
		return Event{}, err
	}
	switch marker {
	case okMarker:
		r.int1()
	case eofMarker:
		eof := eofPacket{}
		if err := eof.decode(r, c.hs.capabilityFlags); err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, c.hs.capabilityFlags); err != nil {
			return Event{}, err
		}
		return Event{}, ep.serverError()
	default:
		return Event{}, fmt.Errorf("%w: got 0x%02x want OK-byte", ErrProtocol, marker)
	}
	// the sum runs from the event header to the byte before the trailer
	if r.checksum > 0 {
		r.hash = crc32.NewIEEE()
	}
	return nextEvent(r)
}
