package slave

import "crypto/sha1"

// https://dev.mysql.com/doc/internals/en/connection-phase-packets.html

type handshake struct {
	// common to v9 and v10
	protocolVersion uint8
	serverVersion   string
	connectionID    uint32
	authPluginData  []byte

	// v10 specific fields
	capabilityFlags uint32
	characterSet    uint8
	statusFlags     uint16
	authPluginName  string
}

func (h *handshake) decode(r *reader) error {
	h.protocolVersion = r.int1()
	h.serverVersion = r.stringNull()
	h.connectionID = r.int4()
	if h.protocolVersion == 9 {
		h.authPluginData = r.bytesNull()
		return r.err
	}

	// v10 ---
	h.authPluginData = r.bytes(8)
	r.skip(1) // filler
	h.capabilityFlags = uint32(r.int2())
	if !r.more() {
		return r.err
	}
	h.characterSet = r.int1()
	h.statusFlags = r.int2()
	h.capabilityFlags |= uint32(r.int2()) << 16
	if r.err != nil {
		return r.err
	}
	var authDataLen uint8
	if h.capabilityFlags&capPluginAuth != 0 {
		authDataLen = r.int1()
	} else {
		r.skip(1)
	}
	r.skip(10) // reserved
	if r.err != nil {
		return r.err
	}
	if h.capabilityFlags&capSecureConnection != 0 {
		if authDataLen > 0 && 13 < authDataLen-8 {
			authDataLen -= 8
		} else {
			authDataLen = 13
		}
		h.authPluginData = append(h.authPluginData, r.bytes(int(authDataLen))...)
	}
	if h.capabilityFlags&capPluginAuth != 0 {
		h.authPluginName = r.stringNull()
	}
	return r.err
}

// https://dev.mysql.com/doc/internals/en/connection-phase-packets.html#packet-Protocol::HandshakeResponse
type handshakeResponse41 struct {
	capabilityFlags uint32
	maxPacketSize   uint32
	characterSet    uint8
	username        string
	authResponse    []byte
	database        string
	authPluginName  string
}

func (p handshakeResponse41) writeTo(w *writer) {
	capabilities := p.capabilityFlags | capProtocol41
	if p.database != "" {
		capabilities |= 0x00000008 // CLIENT_CONNECT_WITH_DB
	}
	if p.authPluginName != "" {
		capabilities |= capPluginAuth
	}

	w.int4(capabilities)
	w.int4(p.maxPacketSize)
	w.int1(p.characterSet)
	_, _ = w.Write(make([]byte, 23))
	w.stringNull(p.username)
	if capabilities&capSecureConnection != 0 {
		w.bytes1(p.authResponse)
	} else {
		_, _ = w.Write(p.authResponse)
		w.int1(0)
	}
	if p.database != "" {
		w.stringNull(p.database)
	}
	if capabilities&capPluginAuth != 0 {
		w.stringNull(p.authPluginName)
	}
}

// scramblePassword computes the mysql_native_password auth response:
// SHA1(password) XOR SHA1(scramble <concat> SHA1(SHA1(password))).
//
// https://dev.mysql.com/doc/internals/en/secure-password-authentication.html
func scramblePassword(password, scramble []byte) []byte {
	if len(password) == 0 {
		return nil
	}
	hash := sha1.New()
	sha := func(b []byte) []byte {
		hash.Reset()
		hash.Write(b)
		return hash.Sum(nil)
	}

	if len(scramble) > 20 {
		scramble = scramble[:20]
	}
	x := sha(password)
	y := sha(append(append([]byte(nil), scramble...), sha(sha(password))...))
	for i, b := range y {
		x[i] ^= b
	}
	return x
}
