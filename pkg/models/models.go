package models

import (
	"fmt"
	"strings"
)

// Record is one OTP secret entry as the host sees it.
type Record struct {
	Name   string `json:"name"`
	Key    []byte `json:"key"`
	Digits uint8  `json:"digits"`
	Config uint8  `json:"config"`
}

// RecordSummary is the enumeration view of a record; it never carries the key.
type RecordSummary struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

type NameVersion struct {
	Name0   string `json:"name0"`
	Name1   string `json:"name1"`
	Version uint32 `json:"version"`
}

func (n NameVersion) String() string {
	return strings.TrimSpace(n.Name0) + "-" + strings.TrimSpace(n.Name1)
}

type Token struct {
	Code   uint32 `json:"code"`
	Digits uint8  `json:"digits"`
}

// String renders the code zero-padded to its digit count.
func (t Token) String() string {
	return fmt.Sprintf("%0*d", int(t.Digits), t.Code)
}

// TransferProgress reports where a chunked transfer stands after one frame.
type TransferProgress struct {
	Direction string `json:"direction"`
	Offset    int    `json:"offset"`
	Remaining int    `json:"remaining"`
	Done      bool   `json:"done"`
}
