package slave

// Generic packets shared by the connection and query paths.
//
// https://dev.mysql.com/doc/internals/en/generic-response-packets.html

// Capability flags: https://dev.mysql.com/doc/internals/en/capability-flags.html
const (
	capLongFlag         = 0x00000004
	capProtocol41       = 0x00000200
	capSSL              = 0x00000800
	capTransactions     = 0x00002000
	capSecureConnection = 0x00008000
	capPluginAuth       = 0x00080000
	capConnectAttrs     = 0x00100000
	capSessionTrack     = 0x00800000
)

// status flags
const statusSessionStateChanged = 0x4000

const (
	okMarker  = 0x00
	eofMarker = 0xfe
	errMarker = 0xff
)

// https://dev.mysql.com/doc/internals/en/packet-EOF_Packet.html
type eofPacket struct {
	warnings    uint16
	statusFlags uint16
}

func (p *eofPacket) decode(r *reader, capabilities uint32) error {
	if header := r.int1(); r.err == nil && header != eofMarker {
		return errf("eofPacket.decode: got header 0x%02x", header)
	}
	if capabilities&capProtocol41 != 0 {
		p.warnings = r.int2()
		p.statusFlags = r.int2()
	}
	return r.err
}

// https://dev.mysql.com/doc/internals/en/packet-ERR_Packet.html
type errPacket struct {
	errorCode      uint16
	sqlStateMarker string
	sqlState       string
	errorMessage   string
}

func (p *errPacket) decode(r *reader, capabilities uint32) error {
	if header := r.int1(); r.err == nil && header != errMarker {
		return errf("errPacket.decode: got header 0x%02x", header)
	}
	p.errorCode = r.int2()
	if capabilities&capProtocol41 != 0 {
		p.sqlStateMarker = r.string(1)
		p.sqlState = r.string(5)
	}
	p.errorMessage = r.stringEOF()
	return r.err
}

func (p *errPacket) serverError() *ServerError {
	return &ServerError{Code: p.errorCode, SQLState: p.sqlState, Message: p.errorMessage}
}

// https://dev.mysql.com/doc/internals/en/packet-OK_Packet.html
type okPacket struct {
	affectedRows        uint64
	lastInsertID        uint64
	statusFlags         uint16
	numWarnings         uint16
	info                string
	sessionStateChanges string
}

func (p *okPacket) decode(r *reader, capabilities uint32) error {
	if header := r.int1(); r.err == nil && header != okMarker {
		return errf("okPacket.decode: got header 0x%02x", header)
	}
	p.affectedRows = r.intN()
	p.lastInsertID = r.intN()
	if capabilities&capProtocol41 != 0 {
		p.statusFlags = r.int2()
		p.numWarnings = r.int2()
	} else if capabilities&capTransactions != 0 {
		p.statusFlags = r.int2()
	}
	if r.err != nil {
		return r.err
	}
	if capabilities&capSessionTrack != 0 {
		p.info = r.stringN()
		if p.statusFlags&statusSessionStateChanged != 0 {
			p.sessionStateChanges = r.stringN()
		}
	} else {
		p.info = r.stringEOF()
	}
	return r.err
}
