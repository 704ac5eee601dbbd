package proxy

import (
	"encoding/binary"
	"fmt"
	"net"
)

// headerSize is the fixed destination prefix every client sends: a
// 4-byte IPv4 address in network byte order followed by a big-endian
// 16-bit TCP port. Everything after these 6 bytes is payload.
const headerSize = 6

type header struct {
	ip   [4]byte
	port uint16
}

func parseHeader(b []byte) header {
	var h header
	copy(h.ip[:], b[:4])
	h.port = binary.BigEndian.Uint16(b[4:headerSize])
	return h
}

func (h header) addr() string {
	return fmt.Sprintf("%s:%d", net.IP(h.ip[:]).String(), h.port)
}
