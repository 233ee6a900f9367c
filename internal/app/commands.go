package app

import (
	"totp-token/go-device/internal/frame"

	"github.com/tillitis/tkeyclient"
)

const (
	CmdGetNameVersion byte = 0x01
	RspGetNameVersion byte = 0x02
	CmdLoadRecords    byte = 0x03
	RspLoadRecords    byte = 0x04
	CmdGetRecords     byte = 0x05
	RspGetRecords     byte = 0x06
	CmdGetList        byte = 0x07
	RspGetList        byte = 0x08
	CmdCalcToken      byte = 0x09
	RspCalcToken      byte = 0x0a
	CmdAddToken       byte = 0x0b
	RspAddToken       byte = 0x0c
	CmdDelToken       byte = 0x0d
	RspDelToken       byte = 0x0e
	CmdResetApp       byte = 0x0f
	RspResetApp       byte = 0x10
	RspUnknownCmd     byte = 0xff
)

const (
	StatusOK  byte = tkeyclient.StatusOK
	StatusBad byte = tkeyclient.StatusBad
)

const (
	AppName0   = "tk1 "
	AppName1   = "totp"
	AppVersion = uint32(1)
)

// Chunk capacities: an upload frame loses the opcode, a download frame loses
// the response code, the status byte and the 16-bit remaining counter.
const (
	UploadChunk   = frame.MaxBodySize - 1
	DownloadChunk = frame.MaxBodySize - 4
)

// Command is one opcode on the application endpoint at a given frame length.
// It satisfies tkeyclient.Cmd.
type Command struct {
	code   byte
	name   string
	cmdLen tkeyclient.CmdLen
}

func (c Command) Code() byte {
	return c.code
}

func (c Command) CmdLen() tkeyclient.CmdLen {
	return c.cmdLen
}

func (c Command) Endpoint() tkeyclient.Endpoint {
	return tkeyclient.DestApp
}

func (c Command) String() string {
	return c.name
}

var (
	ReqGetNameVersion = Command{CmdGetNameVersion, "cmdGetNameVersion", tkeyclient.CmdLen1}
	ReqLoadRecords    = Command{CmdLoadRecords, "cmdLoadRecords", tkeyclient.CmdLen128}
	ReqGetRecords     = Command{CmdGetRecords, "cmdGetRecords", tkeyclient.CmdLen1}
	ReqGetList        = Command{CmdGetList, "cmdGetList", tkeyclient.CmdLen4}
	ReqCalcToken      = Command{CmdCalcToken, "cmdCalcToken", tkeyclient.CmdLen32}
	ReqAddToken       = Command{CmdAddToken, "cmdAddToken", tkeyclient.CmdLen128}
	ReqDelToken       = Command{CmdDelToken, "cmdDelToken", tkeyclient.CmdLen4}
	ReqDelTokenByName = Command{CmdDelToken, "cmdDelTokenByName", tkeyclient.CmdLen128}
	ReqResetApp       = Command{CmdResetApp, "cmdResetApp", tkeyclient.CmdLen1}

	rspGetNameVersion = Command{RspGetNameVersion, "rspGetNameVersion", tkeyclient.CmdLen32}
	rspLoadRecords    = Command{RspLoadRecords, "rspLoadRecords", tkeyclient.CmdLen4}
	rspGetRecords     = Command{RspGetRecords, "rspGetRecords", tkeyclient.CmdLen128}
	rspGetList        = Command{RspGetList, "rspGetList", tkeyclient.CmdLen128}
	rspCalcToken      = Command{RspCalcToken, "rspCalcToken", tkeyclient.CmdLen128}
	rspAddToken       = Command{RspAddToken, "rspAddToken", tkeyclient.CmdLen4}
	rspDelToken       = Command{RspDelToken, "rspDelToken", tkeyclient.CmdLen4}
	rspResetApp       = Command{RspResetApp, "rspResetApp", tkeyclient.CmdLen4}
	rspUnknown        = Command{RspUnknownCmd, "rspUnknown", tkeyclient.CmdLen1}
)

type command struct {
	name string
	reqs []Command
	rsp  Command
	// status commands carry a status byte right after the response code.
	status bool
	// throttled commands consume a token from the mutation limiter.
	throttled bool
}

func (c command) acceptsLen(l tkeyclient.CmdLen) bool {
	for _, want := range c.reqs {
		if want.CmdLen() == l {
			return true
		}
	}
	return false
}

var commands = map[byte]command{
	CmdGetNameVersion: {name: "GET_NAMEVERSION", reqs: []Command{ReqGetNameVersion}, rsp: rspGetNameVersion},
	CmdLoadRecords:    {name: "LOAD_RECORDS", reqs: []Command{ReqLoadRecords}, rsp: rspLoadRecords, status: true},
	CmdGetRecords:     {name: "GET_RECORDS", reqs: []Command{ReqGetRecords}, rsp: rspGetRecords, status: true},
	CmdGetList:        {name: "GET_LIST", reqs: []Command{ReqGetList}, rsp: rspGetList, status: true},
	CmdCalcToken:      {name: "CALC_TOKEN", reqs: []Command{ReqCalcToken}, rsp: rspCalcToken, status: true},
	CmdAddToken:       {name: "ADD_TOKEN", reqs: []Command{ReqAddToken}, rsp: rspAddToken, status: true, throttled: true},
	CmdDelToken:       {name: "DEL_TOKEN", reqs: []Command{ReqDelToken, ReqDelTokenByName}, rsp: rspDelToken, status: true, throttled: true},
	CmdResetApp:       {name: "RESET_APP", reqs: []Command{ReqResetApp}, rsp: rspResetApp, status: true, throttled: true},
}

// CommandName returns the printable name of a request opcode.
func CommandName(code byte) string {
	if c, ok := commands[code]; ok {
		return c.name
	}
	return "UNKNOWN"
}

// ResponseFor returns the reply a request opcode is answered with.
func ResponseFor(code byte) (Command, bool) {
	c, ok := commands[code]
	if !ok {
		return rspUnknown, false
	}
	return c.rsp, true
}
