// Package epmd implements both sides of the Erlang Port Mapper Daemon
// protocol (spec.md §4.3, §4.4): a client used by a node to publish
// itself, look up peers, and enumerate names, and a daemon that serves
// those requests for a whole host.
package epmd

import (
	"encoding/binary"
	"fmt"
)

// Well-known EPMD port, overridable via ERL_EPMD_PORT (spec.md §6).
const DefaultPort = 4369

// Request/response tags, byte values fixed by spec.md §6.
const (
	tagAlive2Req   = 120
	tagAlive2Resp  = 121
	tagAlive2XResp = 118
	tagPort4Req    = 122
	tagPort4Resp   = 119
	tagNamesReq    = 110
	tagStopReq     = 115
)

// NodeInfo is everything EPMD needs to answer PORT4_REQ/NAMES_REQ
// about one registered node.
type NodeInfo struct {
	FullName string // "alive@host", informational
	Name     string // alive name, the EPMD registry key
	Domain   string
	Port     uint16
	Type     byte // 77 ('M') normal, 72 ('H') hidden
	Protocol byte // 0, TCP/IPv4
	HighVsn  uint16
	LowVsn   uint16
	Creation uint16
	Extra    []byte
}

func composeAlive2Req(n *NodeInfo) []byte {
	buf := make([]byte, 0, 14+len(n.Name)+len(n.Extra))
	buf = append(buf, tagAlive2Req)
	buf = appendUint16(buf, n.Port)
	buf = append(buf, n.Type, n.Protocol)
	buf = appendUint16(buf, n.HighVsn)
	buf = appendUint16(buf, n.LowVsn)
	buf = appendUint16(buf, uint16(len(n.Name)))
	buf = append(buf, n.Name...)
	buf = appendUint16(buf, uint16(len(n.Extra)))
	buf = append(buf, n.Extra...)
	return buf
}

// parseAlive2Resp parses ALIVE2_RESP/ALIVE2_X_RESP bodies. Both carry
// {result byte, creation}; the X variant's creation is 4 bytes wide,
// the classic variant's is 2 bytes wide.
func parseAlive2Resp(body []byte) (creation uint32, ok bool) {
	if len(body) < 2 {
		return 0, false
	}
	tag := body[0]
	result := body[1]
	if result != 0 {
		return 0, false
	}
	switch tag {
	case tagAlive2Resp:
		if len(body) < 4 {
			return 0, false
		}
		return uint32(binary.BigEndian.Uint16(body[2:4])), true
	case tagAlive2XResp:
		if len(body) < 6 {
			return 0, false
		}
		return binary.BigEndian.Uint32(body[2:6]), true
	default:
		return 0, false
	}
}

func composePort4Req(alive string) []byte {
	buf := make([]byte, 0, 1+len(alive))
	buf = append(buf, tagPort4Req)
	buf = append(buf, alive...)
	return buf
}

// parsePort4Resp parses a PORT4_RESP body into a NodeInfo. The alive
// name after LowVsn is read into Name when present; the extra field
// after it is ignored.
func parsePort4Resp(body []byte) (NodeInfo, bool) {
	var ni NodeInfo
	if len(body) < 2 || body[0] != tagPort4Resp {
		return ni, false
	}
	if body[1] != 0 {
		return ni, false
	}
	if len(body) < 10 {
		return ni, false
	}
	ni.Port = binary.BigEndian.Uint16(body[2:4])
	ni.Type = body[4]
	ni.Protocol = body[5]
	ni.HighVsn = binary.BigEndian.Uint16(body[6:8])
	ni.LowVsn = binary.BigEndian.Uint16(body[8:10])
	if len(body) >= 12 {
		nlen := int(binary.BigEndian.Uint16(body[10:12]))
		if len(body) >= 12+nlen {
			ni.Name = string(body[12 : 12+nlen])
		}
	}
	return ni, true
}

func composeNamesReq() []byte {
	return []byte{tagNamesReq}
}

func composeStopReq(alive string) []byte {
	buf := make([]byte, 0, 1+len(alive))
	buf = append(buf, tagStopReq)
	buf = append(buf, alive...)
	return buf
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// namesLine formats one registry entry for NAMES_RESP, "name X at port P".
func namesLine(alive string, port uint16) string {
	return fmt.Sprintf("name %s at port %d\n", alive, port)
}
