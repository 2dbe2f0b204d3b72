package dist

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/reganheath/eclus/internal/elog"
	"github.com/reganheath/eclus/transport"
)

// Wire tags for the five handshake steps (spec.md §4.5). The
// spec fixes only 'n' (SEND_NAME) and 's' (SEND_STATUS) by name; the
// remaining three are this engine's own framing for the
// challenge/response exchange.
const (
	hsSendName           = 'n'
	hsSendStatus         = 's'
	hsSendChallenge      = 'c'
	hsSendChallengeReply = 'r'
	hsSendChallengeAck   = 'a'
)

const distVersion = 6

func randomChallenge() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func digest(cookie string, challenge uint32) [16]byte {
	h := md5.New()
	h.Write([]byte(cookie))
	h.Write([]byte(strconv.FormatUint(uint64(challenge), 10)))
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

func sendName(t transport.StreamTransport, local Ident) error {
	body := make([]byte, 0, 7+len(local.Name))
	body = append(body, hsSendName, byte(distVersion>>8), byte(distVersion))
	var flagBuf [4]byte
	binary.BigEndian.PutUint32(flagBuf[:], uint32(local.Flags))
	body = append(body, flagBuf[:]...)
	body = append(body, local.Name...)
	return ioErr("send SEND_NAME", transport.WriteFramed(t, body))
}

func readName(t transport.StreamTransport) (Peer, error) {
	body, err := transport.ReadFramed(t)
	if err != nil {
		return Peer{}, ioErr("read SEND_NAME", err)
	}
	if len(body) < 7 || body[0] != hsSendName {
		return Peer{}, &ProtocolError{Reason: "malformed SEND_NAME"}
	}
	version := uint16(body[1])<<8 | uint16(body[2])
	flags := uint64(binary.BigEndian.Uint32(body[3:7]))
	return Peer{Name: string(body[7:]), Flags: flags, Version: version}, nil
}

func sendStatus(t transport.StreamTransport, status string) error {
	body := append([]byte{hsSendStatus}, status...)
	return ioErr("send SEND_STATUS", transport.WriteFramed(t, body))
}

func readStatus(t transport.StreamTransport) (string, error) {
	body, err := transport.ReadFramed(t)
	if err != nil {
		return "", ioErr("read SEND_STATUS", err)
	}
	if len(body) < 1 || body[0] != hsSendStatus {
		return "", &ProtocolError{Reason: "malformed SEND_STATUS"}
	}
	return string(body[1:]), nil
}

func sendChallenge(t transport.StreamTransport, local Ident, challenge uint32) error {
	body := make([]byte, 0, 11+len(local.Name))
	body = append(body, hsSendChallenge, byte(distVersion>>8), byte(distVersion))
	var flagBuf [4]byte
	binary.BigEndian.PutUint32(flagBuf[:], uint32(local.Flags))
	body = append(body, flagBuf[:]...)
	var chBuf [4]byte
	binary.BigEndian.PutUint32(chBuf[:], challenge)
	body = append(body, chBuf[:]...)
	body = append(body, local.Name...)
	return ioErr("send SEND_CHALLENGE", transport.WriteFramed(t, body))
}

func readChallenge(t transport.StreamTransport) (Peer, uint32, error) {
	body, err := transport.ReadFramed(t)
	if err != nil {
		return Peer{}, 0, ioErr("read SEND_CHALLENGE", err)
	}
	if len(body) < 11 || body[0] != hsSendChallenge {
		return Peer{}, 0, &ProtocolError{Reason: "malformed SEND_CHALLENGE"}
	}
	version := uint16(body[1])<<8 | uint16(body[2])
	flags := uint64(binary.BigEndian.Uint32(body[3:7]))
	challenge := binary.BigEndian.Uint32(body[7:11])
	return Peer{Name: string(body[11:]), Flags: flags, Version: version}, challenge, nil
}

func sendChallengeReply(t transport.StreamTransport, ownChallenge uint32, d [16]byte) error {
	body := make([]byte, 0, 21)
	body = append(body, hsSendChallengeReply)
	var chBuf [4]byte
	binary.BigEndian.PutUint32(chBuf[:], ownChallenge)
	body = append(body, chBuf[:]...)
	body = append(body, d[:]...)
	return ioErr("send SEND_CHALLENGE_REPLY", transport.WriteFramed(t, body))
}

func readChallengeReply(t transport.StreamTransport) (uint32, [16]byte, error) {
	var d [16]byte
	body, err := transport.ReadFramed(t)
	if err != nil {
		return 0, d, ioErr("read SEND_CHALLENGE_REPLY", err)
	}
	if len(body) != 21 || body[0] != hsSendChallengeReply {
		return 0, d, &ProtocolError{Reason: "malformed SEND_CHALLENGE_REPLY"}
	}
	challenge := binary.BigEndian.Uint32(body[1:5])
	copy(d[:], body[5:21])
	return challenge, d, nil
}

func sendChallengeAck(t transport.StreamTransport, d [16]byte) error {
	body := append([]byte{hsSendChallengeAck}, d[:]...)
	return ioErr("send SEND_CHALLENGE_ACK", transport.WriteFramed(t, body))
}

func readChallengeAck(t transport.StreamTransport) ([16]byte, error) {
	var d [16]byte
	body, err := transport.ReadFramed(t)
	if err != nil {
		return d, ioErr("read SEND_CHALLENGE_ACK", err)
	}
	if len(body) != 17 || body[0] != hsSendChallengeAck {
		return d, &ProtocolError{Reason: "malformed SEND_CHALLENGE_ACK"}
	}
	copy(d[:], body[1:17])
	return d, nil
}

// handshakeOutbound runs the initiator side: SEND_NAME, await
// SEND_STATUS, await SEND_CHALLENGE, reply, await ack (spec.md §4.5
// steps 1,2,3,4,6).
func handshakeOutbound(t transport.StreamTransport, local Ident) (Peer, error) {
	if err := sendName(t, local); err != nil {
		return Peer{}, err
	}
	status, err := readStatus(t)
	if err != nil {
		return Peer{}, err
	}
	if status != "ok" && status != "ok_simultaneous" {
		return Peer{}, &ProtocolError{Reason: fmt.Sprintf("peer status %q", status)}
	}
	peer, peerChallenge, err := readChallenge(t)
	if err != nil {
		return Peer{}, err
	}
	if peer.Flags&requiredOfPeer != requiredOfPeer {
		return Peer{}, &ProtocolError{Reason: "peer lacks required capability flags"}
	}
	ownChallenge, err := randomChallenge()
	if err != nil {
		return Peer{}, ioErr("generate challenge", err)
	}
	if err := sendChallengeReply(t, ownChallenge, digest(local.Cookie, peerChallenge)); err != nil {
		return Peer{}, err
	}
	ack, err := readChallengeAck(t)
	if err != nil {
		return Peer{}, err
	}
	if ack != digest(local.Cookie, ownChallenge) {
		elog.With(nil).Warnf("dist: auth failed with %s (bad ack)", peer.Name)
		return Peer{}, &AuthError{Peer: peer.Name}
	}
	return peer, nil
}

// handshakeInbound runs the responder side: await SEND_NAME, reply
// status, send challenge, await reply, validate, ack (spec.md §4.5
// steps 1,2,3,4,5).
func handshakeInbound(t transport.StreamTransport, local Ident) (Peer, error) {
	peer, err := readName(t)
	if err != nil {
		return Peer{}, err
	}
	if peer.Flags&requiredOfPeer != requiredOfPeer {
		_ = sendStatus(t, "nok")
		return Peer{}, &ProtocolError{Reason: "peer lacks required capability flags"}
	}
	if err := sendStatus(t, "ok"); err != nil {
		return Peer{}, err
	}
	ownChallenge, err := randomChallenge()
	if err != nil {
		return Peer{}, ioErr("generate challenge", err)
	}
	if err := sendChallenge(t, local, ownChallenge); err != nil {
		return Peer{}, err
	}
	peerChallenge, reply, err := readChallengeReply(t)
	if err != nil {
		return Peer{}, err
	}
	if reply != digest(local.Cookie, ownChallenge) {
		elog.With(nil).Warnf("dist: auth failed with %s (bad reply)", peer.Name)
		// Send back a digest that cannot match what the initiator
		// expects, so its own ack check also fails instead of the
		// initiator blocking on a connection we are about to close
		// (spec.md §8: "both sides" observe AuthError).
		_ = sendChallengeAck(t, [16]byte{})
		return Peer{}, &AuthError{Peer: peer.Name}
	}
	if err := sendChallengeAck(t, digest(local.Cookie, peerChallenge)); err != nil {
		return Peer{}, err
	}
	return peer, nil
}
