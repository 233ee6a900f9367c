package app

import (
	"encoding/binary"
	"errors"
	"fmt"

	"totp-token/go-device/internal/contracts"
	"totp-token/go-device/internal/records"
	"totp-token/go-device/internal/securestore"
	"totp-token/go-device/internal/transfer"
	"totp-token/go-device/pkg/models"
)

// Offsets inside the ADD_TOKEN request payload (after the opcode).
const (
	addNameLenOff = 0
	addNameOff    = 1
	addKeyLenOff  = addNameOff + records.MaxNameLen
	addKeyOff     = addKeyLenOff + 1
	addDigitsOff  = addKeyOff + records.MaxKeyLen
	addConfigOff  = addDigitsOff + 1
)

func (d *Device) getNameVersion(_ []byte, out []byte) error {
	copy(out[0:4], AppName0)
	copy(out[4:8], AppName1)
	binary.LittleEndian.PutUint32(out[8:12], AppVersion)
	return nil
}

func (d *Device) loadRecords(req, _ []byte) error {
	p, err := d.engine.Receive(req)
	if err != nil {
		if p.Done {
			d.metrics.RecordTransfer("upload", "rejected")
		}
		if errors.Is(err, securestore.ErrAuthFailed) || errors.Is(err, securestore.ErrInvalid) {
			return contracts.WrapCategorizedError(contracts.ErrorCategoryCrypto, err)
		}
		return err
	}
	if p.Done {
		d.metrics.RecordTransfer("upload", "ok")
		d.metrics.SetRecords(d.store.Len())
		d.logInfo("load_records", "", "records loaded", "records", d.store.Len())
	}
	return nil
}

func (d *Device) getRecords(_ []byte, out []byte) error {
	if d.engine.State() == transfer.Idle && d.store.Len() == 0 {
		return ErrEmptyStore
	}
	p, err := d.engine.Send(out[2:])
	if err != nil {
		if errors.Is(err, transfer.ErrGeneratorFault) {
			d.metrics.RecordTransfer("download", "fault")
			return contracts.WrapCategorizedError(contracts.ErrorCategoryGenerator, err)
		}
		return err
	}
	binary.LittleEndian.PutUint16(out[0:2], uint16(p.Remaining))
	if p.Done {
		d.metrics.RecordTransfer("download", "ok")
	}
	return nil
}

// getList pages record names starting at the index in req[0]:
// total(1) | entries(1) | entries x [name_len(1) name].
func (d *Device) getList(req, out []byte) error {
	first := int(req[0])
	total := d.store.Len()
	if first > total {
		return fmt.Errorf("%w: first index %d of %d", records.ErrNotFound, first, total)
	}
	out[0] = byte(total)
	pos, n := 2, 0
	for i := first; i < total; i++ {
		rec, err := d.store.Get(i)
		if err != nil {
			return err
		}
		need := 1 + int(rec.NameLen)
		if pos+need > len(out) {
			break
		}
		out[pos] = rec.NameLen
		copy(out[pos+1:], rec.Name[:rec.NameLen])
		pos += need
		n++
	}
	out[1] = byte(n)
	return nil
}

// calcToken reads index(1) | time step(8, LE) and answers code(4, LE) | digits(1).
func (d *Device) calcToken(req, out []byte) error {
	if d.calculator == nil {
		return ErrNoCalculator
	}
	rec, err := d.store.Get(int(req[0]))
	if err != nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryStorage, err)
	}
	m := rec.Model()
	defer clear(m.Key)
	tok, err := d.calculator.Calculate(m, binary.LittleEndian.Uint64(req[1:9]))
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(out[0:4], tok.Code)
	out[4] = tok.Digits
	return nil
}

func (d *Device) addToken(req, _ []byte) error {
	defer clear(req[addKeyOff : addKeyOff+records.MaxKeyLen])
	nameLen := int(req[addNameLenOff])
	keyLen := int(req[addKeyLenOff])
	if nameLen > records.MaxNameLen || keyLen > records.MaxKeyLen {
		return fmt.Errorf("%w: name %d key %d", ErrMalformedRequest, nameLen, keyLen)
	}
	rec, err := records.NewRecord(models.Record{
		Name:   string(req[addNameOff : addNameOff+nameLen]),
		Key:    req[addKeyOff : addKeyOff+keyLen],
		Digits: req[addDigitsOff],
		Config: req[addConfigOff],
	})
	if err != nil {
		return err
	}
	if err := d.store.Add(rec); err != nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryStorage, err)
	}
	d.metrics.SetRecords(d.store.Len())
	d.logInfo("add_token", "", "record added", "record_name", rec.NameString(), "records", d.store.Len())
	return nil
}

// delToken deletes by index (4-byte frame) or by name (128-byte frame).
func (d *Device) delToken(req, _ []byte) error {
	var err error
	if len(req) < 1+records.MaxNameLen {
		err = d.store.DeleteAt(int(req[0]))
	} else {
		nameLen := int(req[0])
		if nameLen == 0 || nameLen > records.MaxNameLen {
			return fmt.Errorf("%w: name length %d", ErrMalformedRequest, nameLen)
		}
		err = d.store.DeleteByName(string(req[1 : 1+nameLen]))
	}
	if err != nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryStorage, err)
	}
	d.metrics.SetRecords(d.store.Len())
	d.logInfo("del_token", "", "record deleted", "records", d.store.Len())
	return nil
}

func (d *Device) resetApp(_, _ []byte) error {
	d.engine.Abort()
	d.store.Reset()
	d.metrics.SetRecords(0)
	d.logWarn("reset_app", "", "device reset to factory state")
	return nil
}
