// Package records is the fixed-capacity in-memory OTP record store.
package records

import (
	"errors"
	"fmt"

	"totp-token/go-device/pkg/models"
)

const (
	MaxRecords = 32
	MaxNameLen = 32
	MaxKeyLen  = 32
)

var (
	ErrStoreFull     = errors.New("record store is full")
	ErrNotFound      = errors.New("record not found")
	ErrInvalidRecord = errors.New("invalid record")
	ErrInvalidLayout = errors.New("invalid record store layout")
)

// Record is the device-side form of an OTP entry. Lengths are explicit, the
// trailing bytes of Name and Key are zero.
type Record struct {
	Name    [MaxNameLen]byte
	NameLen uint8
	Key     [MaxKeyLen]byte
	KeyLen  uint8
	Digits  uint8
	Config  uint8
}

// NewRecord validates and packs a host record.
func NewRecord(in models.Record) (Record, error) {
	var r Record
	if len(in.Name) == 0 || len(in.Name) > MaxNameLen {
		return Record{}, fmt.Errorf("%w: name length %d", ErrInvalidRecord, len(in.Name))
	}
	if len(in.Key) == 0 || len(in.Key) > MaxKeyLen {
		return Record{}, fmt.Errorf("%w: key length %d", ErrInvalidRecord, len(in.Key))
	}
	r.NameLen = uint8(copy(r.Name[:], in.Name))
	r.KeyLen = uint8(copy(r.Key[:], in.Key))
	r.Digits = in.Digits
	r.Config = in.Config
	return r, nil
}

func (r Record) NameString() string {
	return string(r.Name[:r.NameLen])
}

func (r Record) KeyBytes() []byte {
	return append([]byte(nil), r.Key[:r.KeyLen]...)
}

func (r Record) Model() models.Record {
	return models.Record{
		Name:   r.NameString(),
		Key:    r.KeyBytes(),
		Digits: r.Digits,
		Config: r.Config,
	}
}

func (r Record) valid() bool {
	return r.NameLen <= MaxNameLen && r.KeyLen <= MaxKeyLen
}

// Store holds up to MaxRecords records in insertion order. It is not safe for
// concurrent use; the device loop is its only owner.
type Store struct {
	count   int
	records [MaxRecords]Record
	config  uint8
}

func New() *Store {
	return &Store{}
}

func (s *Store) Len() int {
	return s.count
}

func (s *Store) Config() uint8 {
	return s.config
}

func (s *Store) SetConfig(c uint8) {
	s.config = c
}

// Add appends r; a full store is never overwritten.
func (s *Store) Add(r Record) error {
	if !r.valid() || r.NameLen == 0 || r.KeyLen == 0 {
		return ErrInvalidRecord
	}
	if s.count >= MaxRecords {
		return ErrStoreFull
	}
	s.records[s.count] = r
	s.count++
	return nil
}

func (s *Store) Get(i int) (Record, error) {
	if i < 0 || i >= s.count {
		return Record{}, ErrNotFound
	}
	return s.records[i], nil
}

// DeleteAt removes the record at index i and shifts the tail down.
func (s *Store) DeleteAt(i int) error {
	if i < 0 || i >= s.count {
		return ErrNotFound
	}
	copy(s.records[i:s.count], s.records[i+1:s.count])
	s.count--
	s.records[s.count] = Record{}
	return nil
}

// DeleteByName removes the first record named name.
func (s *Store) DeleteByName(name string) error {
	for i := 0; i < s.count; i++ {
		if s.records[i].NameString() == name {
			return s.DeleteAt(i)
		}
	}
	return ErrNotFound
}

func (s *Store) List() []models.RecordSummary {
	out := make([]models.RecordSummary, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, models.RecordSummary{Index: i, Name: s.records[i].NameString()})
	}
	return out
}

// Reset wipes every slot and the global config.
func (s *Store) Reset() {
	s.Wipe()
	s.count = 0
	s.config = 0
}

// Wipe zeroes all slots, including those beyond count.
func (s *Store) Wipe() {
	for i := range s.records {
		s.records[i] = Record{}
	}
}
