package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Greeting is the client's initial frame listing offered auth methods.
type Greeting struct {
	Version byte
	Methods []byte
}

// readGreeting parses VER(1) | NMETHODS(1) | METHODS(NMETHODS), per
// RFC 1928. NMETHODS is a single byte, not a 16-bit count.
func readGreeting(r io.Reader) (*Greeting, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read greeting header: %w", err)
	}
	if hdr[0] != Version5 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unsupported version %#x", hdr[0])}
	}

	n := int(hdr[1])
	if n == 0 {
		return nil, &ProtocolError{Reason: "greeting declares zero auth methods"}
	}

	methods := make([]byte, n)
	if _, err := io.ReadFull(r, methods); err != nil {
		return nil, fmt.Errorf("read auth methods: %w", err)
	}
	return &Greeting{Version: hdr[0], Methods: methods}, nil
}

// writeMethodSelection writes VER(1) | METHOD(1).
func writeMethodSelection(w io.Writer, method byte) error {
	_, err := w.Write([]byte{Version5, method})
	return err
}

// Request is the client's parsed CONNECT/BIND/UDP_ASSOCIATE frame.
type Request struct {
	Version  byte
	Command  byte
	AddrType byte
	RawAddr  []byte // the address bytes exactly as they appeared on the wire
	Host     string // resolved/stringified form of RawAddr
	Port     uint16
}

// readRequest parses VER(1) | CMD(1) | RSV(1) | ATYP(1) | DST.ADDR | DST.PORT(2).
func readRequest(r io.Reader) (*Request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read request header: %w", err)
	}
	if hdr[0] != Version5 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unsupported version %#x", hdr[0])}
	}
	if hdr[2] != 0x00 {
		return nil, &ProtocolError{Reason: "reserved byte must be 0x00"}
	}

	req := &Request{
		Version:  hdr[0],
		Command:  hdr[1],
		AddrType: hdr[3],
	}

	switch req.AddrType {
	case ATYPIPv4:
		addr := make([]byte, 4)
		if _, err := io.ReadFull(r, addr); err != nil {
			return nil, fmt.Errorf("read ipv4 address: %w", err)
		}
		req.RawAddr = addr
		req.Host = net.IP(addr).String()

	case ATYPDomain:
		var lenBuf [1]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("read domain length: %w", err)
		}
		l := int(lenBuf[0])
		if l == 0 {
			return nil, &ProtocolError{Reason: "zero-length domain name"}
		}
		domain := make([]byte, l)
		if _, err := io.ReadFull(r, domain); err != nil {
			return nil, fmt.Errorf("read domain: %w", err)
		}
		req.RawAddr = domain
		req.Host = string(domain)

	case ATYPIPv6:
		addr := make([]byte, 16)
		if _, err := io.ReadFull(r, addr); err != nil {
			return nil, fmt.Errorf("read ipv6 address: %w", err)
		}
		req.RawAddr = addr
		req.Host = net.IP(addr).String()

	default:
		return nil, &PolicyError{ATYP: req.AddrType}
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return nil, fmt.Errorf("read port: %w", err)
	}
	req.Port = binary.BigEndian.Uint16(portBuf[:])

	return req, nil
}

// writeReply writes VER(1) | REP(1) | RSV(1) | ATYP(1) | BND.ADDR | BND.PORT(2).
// bindIP/bindPort describe the local endpoint-side address on success; a
// nil bindIP encodes the zeroed IPv4 address RFC 1928 permits on failure.
func writeReply(w io.Writer, rep byte, bindIP net.IP, bindPort uint16) error {
	var atyp byte
	var addr []byte

	if v4 := bindIP.To4(); v4 != nil {
		atyp = ATYPIPv4
		addr = v4
	} else if bindIP != nil {
		atyp = ATYPIPv6
		addr = bindIP.To16()
	} else {
		atyp = ATYPIPv4
		addr = make([]byte, 4)
	}

	buf := make([]byte, 4+len(addr)+2)
	buf[0] = Version5
	buf[1] = rep
	buf[2] = 0x00
	buf[3] = atyp
	copy(buf[4:], addr)
	binary.BigEndian.PutUint16(buf[4+len(addr):], bindPort)

	_, err := w.Write(buf)
	return err
}

// userPassRequest is the RFC 1929 sub-negotiation request: VER(1) |
// ULEN(1) | UNAME(ULEN) | PLEN(1) | PASSWD(PLEN).
type userPassRequest struct {
	Username string
	Password string
}

func readUserPassRequest(r io.Reader) (*userPassRequest, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read userpass header: %w", err)
	}
	if hdr[0] != userPassVersion {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unsupported userpass version %#x", hdr[0])}
	}
	uLen := int(hdr[1])
	if uLen == 0 {
		return nil, &ProtocolError{Reason: "empty username"}
	}
	uname := make([]byte, uLen)
	if _, err := io.ReadFull(r, uname); err != nil {
		return nil, fmt.Errorf("read username: %w", err)
	}

	var pLenBuf [1]byte
	if _, err := io.ReadFull(r, pLenBuf[:]); err != nil {
		return nil, fmt.Errorf("read password length: %w", err)
	}
	pLen := int(pLenBuf[0])
	if pLen == 0 {
		return nil, &ProtocolError{Reason: "empty password"}
	}
	passwd := make([]byte, pLen)
	if _, err := io.ReadFull(r, passwd); err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}

	return &userPassRequest{Username: string(uname), Password: string(passwd)}, nil
}

func writeUserPassReply(w io.Writer, ok bool) error {
	status := byte(authStatusSuccess)
	if !ok {
		status = authStatusFailure
	}
	_, err := w.Write([]byte{userPassVersion, status})
	return err
}
