// Package transfer moves one encrypted blob across a channel whose frames are
// smaller than the blob. The command itself says which transfer is resumed:
// a call that finds no transfer in flight starts a fresh one.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrBusy           = errors.New("another transfer is in progress")
	ErrShortChunk     = errors.New("chunk shorter than expected")
	ErrBlobSize       = errors.New("sealed blob has unexpected size")
	ErrGeneratorFault = errors.New("nonce source failed")
	ErrConfig         = errors.New("invalid transfer configuration")
)

type State int

const (
	Idle State = iota
	Uploading
	Downloading
)

func (s State) String() string {
	switch s {
	case Uploading:
		return "upload"
	case Downloading:
		return "download"
	default:
		return "idle"
	}
}

// Codec seals the live store into a blob and restores it from one. Open must
// leave the live store untouched when it fails.
type Codec interface {
	Seal(nonce []byte) ([]byte, error)
	Open(blob []byte) error
}

type Config struct {
	BlobSize      int
	UploadChunk   int
	DownloadChunk int
	NonceSize     int
	// IdleTimeout discards a transfer that saw no frame for this long; zero
	// keeps transfers until they complete or are aborted.
	IdleTimeout time.Duration
}

type Progress struct {
	State     State
	Chunk     int
	Offset    int
	Remaining int
	Done      bool
}

type Engine struct {
	cfg    Config
	codec  Codec
	nonces io.Reader
	now    func() time.Time

	state     State
	offset    int
	remaining int
	staging   []byte
	lastSeen  time.Time
}

func New(cfg Config, codec Codec, nonces io.Reader) (*Engine, error) {
	if cfg.BlobSize <= 0 || cfg.UploadChunk <= 0 || cfg.DownloadChunk <= 0 || cfg.NonceSize <= 0 {
		return nil, ErrConfig
	}
	if cfg.BlobSize > 0xFFFF {
		return nil, fmt.Errorf("%w: blob size %d does not fit the 16-bit counter", ErrConfig, cfg.BlobSize)
	}
	if codec == nil || nonces == nil {
		return nil, fmt.Errorf("%w: codec and nonce source are required", ErrConfig)
	}
	return &Engine{
		cfg:     cfg,
		codec:   codec,
		nonces:  nonces,
		now:     time.Now,
		staging: make([]byte, cfg.BlobSize),
	}, nil
}

func newEngineWithClock(cfg Config, codec Codec, nonces io.Reader, now func() time.Time) (*Engine, error) {
	e, err := New(cfg, codec, nonces)
	if err != nil {
		return nil, err
	}
	e.now = now
	return e, nil
}

func (e *Engine) State() State {
	e.expire(e.now())
	return e.state
}

func (e *Engine) Remaining() int {
	return e.remaining
}

// Receive consumes one upload frame payload. When the last chunk lands the
// blob is handed to Codec.Open exactly once and the engine returns to idle
// whatever the outcome.
func (e *Engine) Receive(payload []byte) (Progress, error) {
	now := e.now()
	e.expire(now)
	if e.state == Downloading {
		return e.progress(0), ErrBusy
	}
	if e.state == Idle {
		e.begin(Uploading)
	}

	n := min(e.remaining, e.cfg.UploadChunk)
	if len(payload) < n {
		e.Abort()
		return Progress{}, fmt.Errorf("%w: need %d bytes, got %d", ErrShortChunk, n, len(payload))
	}
	copy(e.staging[e.offset:], payload[:n])
	e.offset += n
	e.remaining -= n
	e.lastSeen = now

	p := e.progress(n)
	if e.remaining > 0 {
		return p, nil
	}
	err := e.codec.Open(e.staging)
	e.Abort()
	p.Done = true
	return p, err
}

// Send copies the next download chunk into dst and reports the bytes still
// outstanding after it. A fresh download draws one nonce and seals once; the
// snapshot then stays fixed until the last chunk is sent.
func (e *Engine) Send(dst []byte) (Progress, error) {
	now := e.now()
	e.expire(now)
	if e.state == Uploading {
		return e.progress(0), ErrBusy
	}
	if e.state == Idle {
		if err := e.snapshot(); err != nil {
			return Progress{}, err
		}
	}

	n := min(e.remaining, e.cfg.DownloadChunk)
	if len(dst) < n {
		return e.progress(0), fmt.Errorf("%w: destination holds %d of %d bytes", ErrShortChunk, len(dst), n)
	}
	copy(dst, e.staging[e.offset:e.offset+n])
	e.offset += n
	e.remaining -= n
	e.lastSeen = now

	p := e.progress(n)
	if e.remaining == 0 {
		e.Abort()
		p.Done = true
	}
	return p, nil
}

// Abort drops any transfer in flight and wipes the staging buffer.
func (e *Engine) Abort() {
	clear(e.staging)
	e.state = Idle
	e.offset = 0
	e.remaining = 0
	e.lastSeen = time.Time{}
}

func (e *Engine) snapshot() error {
	nonce := make([]byte, e.cfg.NonceSize)
	if _, err := io.ReadFull(e.nonces, nonce); err != nil {
		return fmt.Errorf("%w: %v", ErrGeneratorFault, err)
	}
	blob, err := e.codec.Seal(nonce)
	if err != nil {
		return err
	}
	if len(blob) != e.cfg.BlobSize {
		return fmt.Errorf("%w: %d", ErrBlobSize, len(blob))
	}
	e.begin(Downloading)
	copy(e.staging, blob)
	clear(blob)
	return nil
}

func (e *Engine) begin(s State) {
	e.state = s
	e.offset = 0
	e.remaining = e.cfg.BlobSize
}

func (e *Engine) expire(now time.Time) {
	if e.state == Idle || e.cfg.IdleTimeout <= 0 || e.lastSeen.IsZero() {
		return
	}
	if now.Sub(e.lastSeen) > e.cfg.IdleTimeout {
		e.Abort()
	}
}

func (e *Engine) progress(chunk int) Progress {
	return Progress{
		State:     e.state,
		Chunk:     chunk,
		Offset:    e.offset,
		Remaining: e.remaining,
	}
}
