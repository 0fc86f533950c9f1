package slave

import (
	"strconv"
	"strings"
)

type serverVersion []int

func newServerVersion(str string) (serverVersion, error) {
	s := str
	if i := strings.IndexByte(s, '-'); i != -1 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '+'); i != -1 {
		s = s[:i]
	}
	var sv serverVersion
	for _, v := range strings.Split(s, ".") {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errf("invalid server version %q", str)
		}
		sv = append(sv, n)
	}
	if len(sv) != 3 {
		return nil, errf("invalid server version %q", str)
	}
	return sv, nil
}

func (sv serverVersion) lt(v serverVersion) bool {
	for i := range sv {
		if sv[i] < v[i] {
			return true
		}
		if sv[i] == v[i] {
			continue
		}
		return false
	}
	return false
}

// binlogVersion written by this server version.
//
// https://dev.mysql.com/doc/internals/en/binlog-version.html
func (sv serverVersion) binlogVersion() uint16 {
	switch {
	case sv.lt(serverVersion{4, 0, 0}):
		return 1
	case sv.lt(serverVersion{4, 0, 2}):
		return 2
	case sv.lt(serverVersion{5, 0, 0}):
		return 3
	default:
		return 4
	}
}

// hasChecksumAlg reports whether the server appends the checksum
// algorithm byte to format description events.
func (sv serverVersion) hasChecksumAlg() bool {
	return !sv.lt(serverVersion{5, 6, 1})
}
