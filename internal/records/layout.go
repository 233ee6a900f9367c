package records

import "fmt"

// Serialized layout, shared with the encrypted blob:
//
//	count(1) | MaxRecords x [name(32) name_len(1) key(32) key_len(1) digits(1) config(1)] | config(1)
const (
	recordSize = MaxNameLen + 1 + MaxKeyLen + 1 + 1 + 1
	StoreSize  = 1 + MaxRecords*recordSize + 1
)

func (s *Store) MarshalBinary() ([]byte, error) {
	buf := make([]byte, StoreSize)
	buf[0] = byte(s.count)
	for i := 0; i < s.count; i++ {
		putRecord(buf[1+i*recordSize:], s.records[i])
	}
	buf[StoreSize-1] = s.config
	return buf, nil
}

// UnmarshalBinary replaces s with the decoded store. On error s is left as it was.
func (s *Store) UnmarshalBinary(data []byte) error {
	if len(data) != StoreSize {
		return fmt.Errorf("%w: size %d", ErrInvalidLayout, len(data))
	}
	count := int(data[0])
	if count > MaxRecords {
		return fmt.Errorf("%w: count %d", ErrInvalidLayout, count)
	}
	var next Store
	for i := 0; i < count; i++ {
		r := getRecord(data[1+i*recordSize:])
		if !r.valid() {
			return fmt.Errorf("%w: record %d lengths", ErrInvalidLayout, i)
		}
		next.records[i] = r
	}
	next.count = count
	next.config = data[StoreSize-1]
	*s = next
	return nil
}

func putRecord(dst []byte, r Record) {
	off := copy(dst, r.Name[:])
	dst[off] = r.NameLen
	off++
	off += copy(dst[off:], r.Key[:])
	dst[off] = r.KeyLen
	dst[off+1] = r.Digits
	dst[off+2] = r.Config
}

func getRecord(src []byte) Record {
	var r Record
	off := copy(r.Name[:], src)
	r.NameLen = src[off]
	off++
	off += copy(r.Key[:], src[off:off+MaxKeyLen])
	r.KeyLen = src[off]
	r.Digits = src[off+1]
	r.Config = src[off+2]
	return r
}
