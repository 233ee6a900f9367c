// Package frame reads and writes the token's framing: one header byte followed
// by a body of 1, 4, 32 or 128 bytes. Length codes, endpoints and the decoded
// header come from tkeyclient; request headers are parsed here because the
// library only decodes the replies it reads off a serial port.
//
//	bit 7    version, must be 0
//	bit 6-5  frame id
//	bit 4-3  endpoint
//	bit 2    status: 0 OK, 1 NOK (always 0 on requests)
//	bit 1-0  body length code
package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/tillitis/tkeyclient"
)

const MaxBodySize = 128

// Endpoints below the firmware; tkeyclient only names DestFW and DestApp.
const (
	EndpointInternalFPGA tkeyclient.Endpoint = 0
	EndpointAppFPGA      tkeyclient.Endpoint = 1
)

var (
	ErrBadHeader = errors.New("bad frame header")
	ErrBodySize  = errors.New("frame body does not match length code")
)

type Header = tkeyclient.FramingHdr

func EndpointName(e tkeyclient.Endpoint) string {
	switch e {
	case EndpointInternalFPGA:
		return "ifpga"
	case EndpointAppFPGA:
		return "afpga"
	case tkeyclient.DestFW:
		return "firmware"
	default:
		return "app"
	}
}

// ParseHeader decodes a request header byte.
func ParseHeader(b byte) (Header, error) {
	if b&0x04 != 0 {
		return Header{}, fmt.Errorf("%w: status bit set on request (0x%02x)", ErrBadHeader, b)
	}
	return ParseReplyHeader(b)
}

// ParseReplyHeader decodes a header byte where the status bit is allowed.
func ParseReplyHeader(b byte) (Header, error) {
	if b&0x80 != 0 {
		return Header{}, fmt.Errorf("%w: version bit set (0x%02x)", ErrBadHeader, b)
	}
	return Header{
		ID:            (b & 0x60) >> 5,
		Endpoint:      tkeyclient.Endpoint((b & 0x18) >> 3),
		CmdLen:        tkeyclient.CmdLen(b & 0x03),
		ResponseNotOK: b&0x04 != 0,
	}, nil
}

func HeaderByte(h Header) byte {
	b := (h.ID&0x03)<<5 | (byte(h.Endpoint)&0x03)<<3 | byte(h.CmdLen)&0x03
	if h.ResponseNotOK {
		b |= 0x04
	}
	return b
}

// ReadFrame reads one request frame. A bad header consumes exactly one byte,
// so callers resynchronize by calling again.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	return readFrame(r, ParseHeader)
}

// ReadReply reads one reply frame.
func ReadReply(r io.Reader) (Header, []byte, error) {
	return readFrame(r, ParseReplyHeader)
}

func readFrame(r io.Reader, parse func(byte) (Header, error)) (Header, []byte, error) {
	var one [1]byte
	if _, err := io.ReadFull(r, one[:]); err != nil {
		return Header{}, nil, err
	}
	hdr, err := parse(one[0])
	if err != nil {
		return Header{}, nil, err
	}
	body := make([]byte, hdr.CmdLen.Bytelen())
	if _, err := io.ReadFull(r, body); err != nil {
		return Header{}, nil, err
	}
	return hdr, body, nil
}

// WriteFrame writes the header and a body zero-padded to the header's length.
func WriteFrame(w io.Writer, hdr Header, body []byte) error {
	size := hdr.CmdLen.Bytelen()
	if len(body) > size {
		return fmt.Errorf("%w: %d bytes for length %d", ErrBodySize, len(body), size)
	}
	buf := make([]byte, 1+size)
	buf[0] = HeaderByte(hdr)
	copy(buf[1:], body)
	_, err := w.Write(buf)
	return err
}
