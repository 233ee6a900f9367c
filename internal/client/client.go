// Package client is the host side of the device channel.
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"totp-token/go-device/internal/app"
	"totp-token/go-device/internal/frame"
	"totp-token/go-device/internal/records"
	"totp-token/go-device/internal/securestore"
	"totp-token/go-device/pkg/models"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/tillitis/tkeyclient"
)

const DefaultTimeout = 2 * time.Second

// downloadFrames is the number of GET_RECORDS frames one blob takes.
const downloadFrames = (securestore.BlobSize + app.DownloadChunk - 1) / app.DownloadChunk

var (
	ErrStatusBad       = errors.New("device answered status BAD")
	ErrNOK             = errors.New("device answered NOK")
	ErrUnknownCommand  = errors.New("device does not know the command")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

type deadliner interface {
	SetDeadline(time.Time) error
}

// Client issues one request at a time and waits for its reply.
type Client struct {
	rw      io.ReadWriter
	closer  io.Closer
	timeout time.Duration
	nextID  byte
}

func New(rw io.ReadWriter) *Client {
	c := &Client{rw: rw, timeout: DefaultTimeout}
	if cl, ok := rw.(io.Closer); ok {
		c.closer = cl
	}
	return c
}

// Dial connects to a device listening on a multiaddr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	remote, err := ma.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("device address %q: %w", addr, err)
	}
	var d manet.Dialer
	conn, err := d.DialContext(ctx, remote)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", remote, err)
	}
	return New(conn), nil
}

// SetTimeout bounds each exchange when the transport supports deadlines; zero
// disables it.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) GetNameVersion() (models.NameVersion, error) {
	rsp, err := c.exchange(app.ReqGetNameVersion, nil)
	if err != nil {
		return models.NameVersion{}, err
	}
	var nv tkeyclient.NameVersion
	nv.Unpack(rsp[1:])
	return models.NameVersion{Name0: nv.Name0, Name1: nv.Name1, Version: nv.Version}, nil
}

// LoadRecords uploads an encrypted store blob in UploadChunk sized frames. A
// download left open by an earlier session is run out before the upload.
func (c *Client) LoadRecords(blob []byte, progress func(models.TransferProgress)) error {
	if len(blob) != securestore.BlobSize {
		return fmt.Errorf("blob is %d bytes, want %d", len(blob), securestore.BlobSize)
	}
	for off := 0; off < len(blob); off += app.UploadChunk {
		end := min(off+app.UploadChunk, len(blob))
		_, err := c.statusExchange(app.ReqLoadRecords, blob[off:end])
		if err != nil && off == 0 && errors.Is(err, ErrStatusBad) {
			if c.drainDownload() {
				_, err = c.statusExchange(app.ReqLoadRecords, blob[off:end])
			}
		}
		if err != nil {
			return fmt.Errorf("load records at offset %d: %w", off, err)
		}
		if progress != nil {
			progress(models.TransferProgress{Direction: "upload", Offset: end, Remaining: len(blob) - end, Done: end == len(blob)})
		}
	}
	return nil
}

// GetRecords downloads one encrypted snapshot of the store. The first reply of
// a fresh download always reports BlobSize-DownloadChunk remaining; anything
// else is the tail of a download an earlier session abandoned, which is read
// out and discarded before a fresh cycle starts.
func (c *Client) GetRecords(progress func(models.TransferProgress)) ([]byte, error) {
	blob := make([]byte, 0, securestore.BlobSize)
	stale := 0
	for {
		out, err := c.statusExchange(app.ReqGetRecords, nil)
		if err != nil {
			return nil, fmt.Errorf("get records at offset %d: %w", len(blob), err)
		}
		remaining := int(binary.LittleEndian.Uint16(out[0:2]))
		if len(blob) == 0 && remaining != securestore.BlobSize-app.DownloadChunk {
			stale++
			if stale > downloadFrames {
				return nil, fmt.Errorf("%w: download did not restart, remaining %d", ErrUnexpectedReply, remaining)
			}
			continue
		}
		chunk := securestore.BlobSize - len(blob) - remaining
		if chunk <= 0 || chunk > app.DownloadChunk {
			return nil, fmt.Errorf("%w: remaining %d after %d bytes", ErrUnexpectedReply, remaining, len(blob))
		}
		blob = append(blob, out[2:2+chunk]...)
		if progress != nil {
			progress(models.TransferProgress{Direction: "download", Offset: len(blob), Remaining: remaining, Done: remaining == 0})
		}
		if remaining == 0 {
			return blob, nil
		}
	}
}

// drainDownload reads GET_RECORDS until the device reports nothing remaining.
// It returns false when the device refused to download at all.
func (c *Client) drainDownload() bool {
	for range downloadFrames {
		out, err := c.statusExchange(app.ReqGetRecords, nil)
		if err != nil {
			return false
		}
		if binary.LittleEndian.Uint16(out[0:2]) == 0 {
			return true
		}
	}
	return false
}

// List pages through every record name.
func (c *Client) List() ([]models.RecordSummary, error) {
	var out []models.RecordSummary
	for {
		payload, err := c.statusExchange(app.ReqGetList, []byte{byte(len(out))})
		if err != nil {
			return nil, err
		}
		total, n := int(payload[0]), int(payload[1])
		pos := 2
		for i := 0; i < n; i++ {
			if pos >= len(payload) {
				return nil, fmt.Errorf("%w: list entry %d overruns frame", ErrUnexpectedReply, i)
			}
			l := int(payload[pos])
			if pos+1+l > len(payload) {
				return nil, fmt.Errorf("%w: list entry %d overruns frame", ErrUnexpectedReply, i)
			}
			out = append(out, models.RecordSummary{Index: len(out), Name: string(payload[pos+1 : pos+1+l])})
			pos += 1 + l
		}
		if len(out) >= total || n == 0 {
			return out, nil
		}
	}
}

func (c *Client) Add(rec models.Record) error {
	if _, err := records.NewRecord(rec); err != nil {
		return err
	}
	p := make([]byte, app.ReqAddToken.CmdLen().Bytelen()-1)
	defer clear(p)
	p[0] = byte(len(rec.Name))
	copy(p[1:], rec.Name)
	p[1+records.MaxNameLen] = byte(len(rec.Key))
	copy(p[2+records.MaxNameLen:], rec.Key)
	p[2+records.MaxNameLen+records.MaxKeyLen] = rec.Digits
	p[3+records.MaxNameLen+records.MaxKeyLen] = rec.Config
	_, err := c.statusExchange(app.ReqAddToken, p)
	return err
}

func (c *Client) DeleteAt(index int) error {
	if index < 0 || index >= records.MaxRecords {
		return fmt.Errorf("index %d out of range", index)
	}
	_, err := c.statusExchange(app.ReqDelToken, []byte{byte(index)})
	return err
}

func (c *Client) DeleteByName(name string) error {
	if len(name) == 0 || len(name) > records.MaxNameLen {
		return fmt.Errorf("name length %d out of range", len(name))
	}
	p := make([]byte, 1+records.MaxNameLen)
	p[0] = byte(len(name))
	copy(p[1:], name)
	_, err := c.statusExchange(app.ReqDelTokenByName, p)
	return err
}

func (c *Client) Reset() error {
	_, err := c.statusExchange(app.ReqResetApp, nil)
	return err
}

func (c *Client) CalcToken(index int, timeStep uint64) (models.Token, error) {
	p := make([]byte, 9)
	p[0] = byte(index)
	binary.LittleEndian.PutUint64(p[1:], timeStep)
	out, err := c.statusExchange(app.ReqCalcToken, p)
	if err != nil {
		return models.Token{}, err
	}
	return models.Token{Code: binary.LittleEndian.Uint32(out[0:4]), Digits: out[4]}, nil
}

// statusExchange returns the payload after the status byte.
func (c *Client) statusExchange(req app.Command, payload []byte) ([]byte, error) {
	rsp, err := c.exchange(req, payload)
	if err != nil {
		return nil, err
	}
	if rsp[1] != app.StatusOK {
		return nil, fmt.Errorf("%s: %w", app.CommandName(req.Code()), ErrStatusBad)
	}
	return rsp[2:], nil
}

// exchange sends req with payload after the opcode and returns the reply body,
// response code first.
func (c *Client) exchange(req app.Command, payload []byte) ([]byte, error) {
	name := app.CommandName(req.Code())
	want, ok := app.ResponseFor(req.Code())
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, req.Code())
	}
	id := c.nextID
	c.nextID = (c.nextID + 1) & 0x03

	tx, err := tkeyclient.NewFrameBuf(req, int(id))
	if err != nil {
		return nil, fmt.Errorf("%s: NewFrameBuf: %w", name, err)
	}
	defer clear(tx)
	if len(payload) > len(tx)-2 {
		return nil, fmt.Errorf("%s: %w: %d byte payload", name, frame.ErrBodySize, len(payload))
	}
	copy(tx[2:], payload)

	if dl, ok := c.rw.(deadliner); ok && c.timeout > 0 {
		_ = dl.SetDeadline(time.Now().Add(c.timeout))
		defer func() { _ = dl.SetDeadline(time.Time{}) }()
	}
	if _, err := c.rw.Write(tx); err != nil {
		return nil, fmt.Errorf("%s: write: %w", name, err)
	}

	rhdr, rsp, err := frame.ReadReply(c.rw)
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", name, err)
	}
	if rhdr.ResponseNotOK {
		return nil, fmt.Errorf("%s: %w", name, ErrNOK)
	}
	if rhdr.ID != id || rhdr.Endpoint != tkeyclient.DestApp {
		return nil, fmt.Errorf("%w: frame id %d endpoint %s, want id %d", ErrUnexpectedReply, rhdr.ID, frame.EndpointName(rhdr.Endpoint), id)
	}
	switch rsp[0] {
	case want.Code():
	case app.RspUnknownCmd:
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownCommand)
	default:
		return nil, fmt.Errorf("%w: code 0x%02x for %s", ErrUnexpectedReply, rsp[0], name)
	}
	if rhdr.CmdLen != want.CmdLen() {
		return nil, fmt.Errorf("%w: %d byte reply to %s", ErrUnexpectedReply, len(rsp), name)
	}
	return rsp, nil
}
