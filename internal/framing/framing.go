// Package framing implements the length-prefixed wire record described in
// SPEC_FULL.md §6: a 4-byte big-endian length header followed by exactly
// that many opaque bytes encoding a TerminalConfig. It is the Go analogue
// of madbg's communication.py (struct.pack/MESSAGE_LENGTH_FMT), generalised
// from a single fixed-size header to the length-prefixed contract in
// SPEC_FULL.md §4.3.
package framing

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ianremillard/rdbg/internal/rdbgerr"
)

// maxPayload bounds a single TerminalConfig record, guarding against a
// corrupt or hostile length header.
const maxPayload = 1 << 20

// TerminalConfig is the client's local terminal description, sent once at
// the start of every connection (SPEC_FULL.md §3, §6).
type TerminalConfig struct {
	TermType string
	Rows     uint16
	Cols     uint16
	Attrs    []byte // opaque native terminal-attribute vector (raw termios)
}

// Encode serialises cfg into the wire body format:
//
//	u16 len(TermType) | TermType bytes | u16 Rows | u16 Cols | u32 len(Attrs) | Attrs bytes
func (cfg TerminalConfig) Encode() []byte {
	buf := make([]byte, 0, 2+len(cfg.TermType)+2+2+4+len(cfg.Attrs))
	var tmp [4]byte

	binary.BigEndian.PutUint16(tmp[:2], uint16(len(cfg.TermType)))
	buf = append(buf, tmp[:2]...)
	buf = append(buf, cfg.TermType...)

	binary.BigEndian.PutUint16(tmp[:2], cfg.Rows)
	buf = append(buf, tmp[:2]...)
	binary.BigEndian.PutUint16(tmp[:2], cfg.Cols)
	buf = append(buf, tmp[:2]...)

	binary.BigEndian.PutUint32(tmp[:4], uint32(len(cfg.Attrs)))
	buf = append(buf, tmp[:4]...)
	buf = append(buf, cfg.Attrs...)
	return buf
}

// DecodeTerminalConfig parses the body written by Encode.
func DecodeTerminalConfig(body []byte) (TerminalConfig, error) {
	var cfg TerminalConfig
	if len(body) < 2 {
		return cfg, rdbgerr.New(rdbgerr.Protocol, "DecodeTerminalConfig", fmt.Errorf("truncated term-type length"))
	}
	n := binary.BigEndian.Uint16(body[:2])
	body = body[2:]
	if len(body) < int(n)+4 {
		return cfg, rdbgerr.New(rdbgerr.Protocol, "DecodeTerminalConfig", fmt.Errorf("truncated term-type"))
	}
	cfg.TermType = string(body[:n])
	body = body[n:]

	if len(body) < 4 {
		return cfg, rdbgerr.New(rdbgerr.Protocol, "DecodeTerminalConfig", fmt.Errorf("truncated window size"))
	}
	cfg.Rows = binary.BigEndian.Uint16(body[:2])
	cfg.Cols = binary.BigEndian.Uint16(body[2:4])
	body = body[4:]

	if len(body) < 4 {
		return cfg, rdbgerr.New(rdbgerr.Protocol, "DecodeTerminalConfig", fmt.Errorf("truncated attrs length"))
	}
	attrsLen := binary.BigEndian.Uint32(body[:4])
	body = body[4:]
	if uint32(len(body)) < attrsLen {
		return cfg, rdbgerr.New(rdbgerr.Protocol, "DecodeTerminalConfig", fmt.Errorf("truncated attrs"))
	}
	cfg.Attrs = append([]byte(nil), body[:attrsLen]...)
	return cfg, nil
}

// WriteConfig writes a single length-prefixed TerminalConfig record to w.
// Both the header and the payload are written before WriteConfig returns
// (SPEC_FULL.md §4.3).
func WriteConfig(w io.Writer, cfg TerminalConfig) error {
	body := cfg.Encode()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return rdbgerr.New(rdbgerr.Transport, "WriteConfig", err)
	}
	if _, err := w.Write(body); err != nil {
		return rdbgerr.New(rdbgerr.Transport, "WriteConfig", err)
	}
	return nil
}

// ReadConfig reads exactly one length-prefixed TerminalConfig record from r.
// Short reads loop (io.ReadFull) per SPEC_FULL.md §4.3.
func ReadConfig(r io.Reader) (TerminalConfig, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return TerminalConfig{}, rdbgerr.New(rdbgerr.Transport, "ReadConfig", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxPayload {
		return TerminalConfig{}, rdbgerr.New(rdbgerr.Protocol, "ReadConfig", fmt.Errorf("payload too large: %d bytes", n))
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return TerminalConfig{}, rdbgerr.New(rdbgerr.Transport, "ReadConfig", err)
	}
	return DecodeTerminalConfig(body)
}
