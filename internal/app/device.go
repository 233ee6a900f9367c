package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"totp-token/go-device/internal/contracts"
	"totp-token/go-device/internal/cspring"
	"totp-token/go-device/internal/frame"
	"totp-token/go-device/internal/identity"
	"totp-token/go-device/internal/metrics"
	"totp-token/go-device/internal/platform/ratelimiter"
	"totp-token/go-device/internal/records"
	"totp-token/go-device/internal/securestore"
	"totp-token/go-device/internal/transfer"

	"github.com/tillitis/tkeyclient"
)

var (
	ErrNoIdentitySource = errors.New("identity source is required")
	ErrEmptyStore       = errors.New("record store is empty")
	ErrRequestLength    = errors.New("request length does not match command")
	ErrThrottled        = errors.New("command throttled")
	ErrNoCalculator     = errors.New("no token calculator configured")
	ErrMalformedRequest = errors.New("malformed request payload")
)

type Options struct {
	Identity   IdentitySource
	Indicator  StatusIndicator
	Monitor    FaultMonitor
	Calculator Calculator

	Logger  *slog.Logger
	Metrics *metrics.Collector
	// Limiter throttles store mutations per command; nil disables it.
	Limiter *ratelimiter.MapLimiter

	TransferIdleTimeout time.Duration
	Now                 func() time.Time
}

// Reply is one response frame.
type Reply struct {
	Header frame.Header
	Body   []byte
}

// Device is the whole mutable state of one boot. It has a single owner: the
// serve loop calls Handle one frame at a time, so nothing here is locked.
type Device struct {
	key         identity.Secret
	fingerprint string
	store       *records.Store
	gen         *cspring.Generator
	engine      *transfer.Engine

	indicator  StatusIndicator
	calculator Calculator
	logger     *slog.Logger
	metrics    *metrics.Collector
	limiter    *ratelimiter.MapLimiter
	now        func() time.Time
	// faulted latches after a generator fault until the next boot. It is read
	// from the health endpoint, off the serve goroutine.
	faulted atomic.Bool
}

// New boots a device: arm the monitor, read the identity once, seed the
// generator from it and signal ready.
func New(opts Options) (*Device, error) {
	if opts.Identity == nil {
		return nil, ErrNoIdentitySource
	}
	d := &Device{
		store:      records.New(),
		indicator:  opts.Indicator,
		calculator: opts.Calculator,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		limiter:    opts.Limiter,
		now:        opts.Now,
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	if d.indicator == nil {
		d.indicator = &LogIndicator{Logger: d.logger}
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.indicator.SetStatus(StatusBooting)

	monitor := opts.Monitor
	if monitor == nil {
		monitor = NopMonitor{}
	}
	if err := monitor.Arm(); err != nil {
		d.indicator.SetStatus(StatusFault)
		return nil, fmt.Errorf("arm fault monitor: %w", err)
	}

	secret, err := opts.Identity.DeviceIdentity()
	if err != nil {
		d.indicator.SetStatus(StatusFault)
		return nil, fmt.Errorf("read device identity: %w", err)
	}
	d.key = secret
	d.fingerprint = identity.Fingerprint(secret)

	seed, err := identity.SeedFor(secret)
	if err != nil {
		d.indicator.SetStatus(StatusFault)
		return nil, fmt.Errorf("derive generator seed: %w", err)
	}
	d.gen = cspring.New(seed)
	clear(seed[:])
	d.gen.OnReseed(d.metrics.RecordReseed)

	d.engine, err = d.newEngine(opts.TransferIdleTimeout, d.gen)
	if err != nil {
		d.indicator.SetStatus(StatusFault)
		return nil, err
	}

	d.metrics.SetRecords(0)
	d.indicator.SetStatus(StatusReady)
	d.logInfo("boot", "", "device ready", "device_fp", d.fingerprint)
	return d, nil
}

func (d *Device) newEngine(idle time.Duration, nonces io.Reader) (*transfer.Engine, error) {
	return transfer.New(transfer.Config{
		BlobSize:      securestore.BlobSize,
		UploadChunk:   UploadChunk,
		DownloadChunk: DownloadChunk,
		NonceSize:     securestore.NonceSize,
		IdleTimeout:   idle,
	}, storeCodec{d: d}, nonces)
}

// Handle runs one frame to completion. ok is false when the frame is not for
// this application and must go unanswered.
func (d *Device) Handle(hdr frame.Header, body []byte) (Reply, bool) {
	switch hdr.Endpoint {
	case tkeyclient.DestFW:
		d.logWarn("dispatch", frameCorrelationID(hdr), "frame for firmware answered NOK")
		return nokReply(hdr), true
	case tkeyclient.DestApp:
	default:
		d.logWarn("dispatch", frameCorrelationID(hdr), "frame not for application dropped", "endpoint", frame.EndpointName(hdr.Endpoint))
		return Reply{}, false
	}
	if len(body) != hdr.CmdLen.Bytelen() {
		err := fmt.Errorf("%w: %d bytes for length %d", frame.ErrBodySize, len(body), hdr.CmdLen.Bytelen())
		d.recordError(contracts.ErrorCategoryProtocol, err, "dispatch", frameCorrelationID(hdr))
		return nokReply(hdr), true
	}

	code := body[0]
	cmd, known := commands[code]
	if !known {
		d.metrics.RecordCommand("UNKNOWN", "unknown")
		d.logWarn("dispatch", frameCorrelationID(hdr), "unknown command", "opcode", fmt.Sprintf("0x%02x", code))
		return reply(hdr, rspUnknown, []byte{RspUnknownCmd}), true
	}

	rsp := make([]byte, cmd.rsp.CmdLen().Bytelen())
	rsp[0] = cmd.rsp.Code()
	out := rsp[1:]
	if cmd.status {
		out = rsp[2:]
	}

	err := d.execute(cmd, hdr, code, body, out)
	if cmd.status {
		rsp[1] = StatusOK
		if err != nil {
			clear(out)
			rsp[1] = StatusBad
		}
	}
	d.observe(cmd, hdr, err)
	d.refreshIndicator()
	return reply(hdr, cmd.rsp, rsp), true
}

func (d *Device) execute(cmd command, hdr frame.Header, code byte, body, out []byte) error {
	if !cmd.acceptsLen(hdr.CmdLen) {
		return fmt.Errorf("%w: %s got %d bytes", ErrRequestLength, cmd.name, hdr.CmdLen.Bytelen())
	}
	if cmd.throttled && !d.limiter.Allow(cmd.name, d.now()) {
		return ErrThrottled
	}
	req := body[1:]
	switch code {
	case CmdGetNameVersion:
		return d.getNameVersion(req, out)
	case CmdLoadRecords:
		return d.loadRecords(req, out)
	case CmdGetRecords:
		return d.getRecords(req, out)
	case CmdGetList:
		return d.getList(req, out)
	case CmdCalcToken:
		return d.calcToken(req, out)
	case CmdAddToken:
		return d.addToken(req, out)
	case CmdDelToken:
		return d.delToken(req, out)
	case CmdResetApp:
		return d.resetApp(req, out)
	}
	return fmt.Errorf("no handler for 0x%02x", code)
}

// Records reports the number of records held.
func (d *Device) Records() int {
	return d.store.Len()
}

func (d *Device) TransferState() transfer.State {
	return d.engine.State()
}

// Faulted reports whether the generator has failed since boot.
func (d *Device) Faulted() bool {
	return d.faulted.Load()
}

// Close drops any transfer and wipes records and key material.
func (d *Device) Close() {
	d.engine.Abort()
	d.store.Reset()
	d.key.Wipe()
	d.indicator.SetStatus(StatusBooting)
}

func (d *Device) refreshIndicator() {
	if d.faulted.Load() {
		d.indicator.SetStatus(StatusFault)
		return
	}
	if d.engine.State() == transfer.Idle {
		d.indicator.SetStatus(StatusReady)
		return
	}
	d.indicator.SetStatus(StatusTransfer)
}

func reply(hdr frame.Header, rsp Command, body []byte) Reply {
	return Reply{
		Header: frame.Header{ID: hdr.ID, Endpoint: hdr.Endpoint, CmdLen: rsp.CmdLen()},
		Body:   body,
	}
}

func nokReply(hdr frame.Header) Reply {
	return Reply{
		Header: frame.Header{ID: hdr.ID, Endpoint: hdr.Endpoint, CmdLen: tkeyclient.CmdLen1, ResponseNotOK: true},
		Body:   []byte{0},
	}
}
