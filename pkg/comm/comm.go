// Package comm implements the fixed-frame binary protocol spoken between
// the hook library inside each container and the scheduler daemon.
//
// Frames are fixed-length and little-endian. A request frame carries the
// client name so the daemon can attribute the connection; the request ID
// is opaque to the daemon and passed back verbatim in the response.
package comm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// RequestFrameSize is the on-wire size of every request.
	RequestFrameSize = 512
	// ResponseFrameSize is the on-wire size of every response.
	ResponseFrameSize = 128
	// NameFieldSize bounds the client name field.
	NameFieldSize = 64
)

// Request frame layout.
const (
	reqNameLenOff = 0
	reqNameOff    = 4
	reqIDOff      = reqNameOff + NameFieldSize
	reqKindOff    = reqIDOff + 4
	reqPayloadOff = reqKindOff + 4
)

// Response frame layout.
const (
	rspIDOff      = 0
	rspKindOff    = 4
	rspPayloadOff = 8
)

var (
	ErrShortFrame  = errors.New("frame too short")
	ErrNameTooLong = errors.New("client name too long")
	ErrBadKind     = errors.New("unknown request kind")
)

// Kind identifies what a request asks the daemon for.
type Kind uint32

const (
	KindQuota     Kind = 0 // request an execution quota token
	KindMemLimit  Kind = 1 // query memory usage and limit
	KindMemUpdate Kind = 2 // report an allocation or free
)

func (k Kind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindMemLimit:
		return "mem_limit"
	case KindMemUpdate:
		return "mem_update"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

func (k Kind) valid() bool {
	return k == KindQuota || k == KindMemLimit || k == KindMemUpdate
}

// Request is a decoded request frame. Payload fields are meaningful
// according to Kind: OveruseMS/BurstMS for quota requests, Bytes/Allocate
// for memory updates. Memory limit queries carry no payload.
type Request struct {
	Client string
	ID     uint32
	Kind   Kind

	OveruseMS float64
	BurstMS   float64
	Bytes     uint64
	Allocate  bool
}

// Response is a decoded response frame. QuotaMS answers quota requests,
// Used/Limit answer memory limit queries, OK answers memory updates.
type Response struct {
	ID   uint32
	Kind Kind

	QuotaMS float64
	Used    uint64
	Limit   uint64
	OK      bool
}

func newRequestFrame(client string, id uint32, kind Kind) ([]byte, error) {
	if len(client) > NameFieldSize-1 {
		return nil, fmt.Errorf("%w: %q", ErrNameTooLong, client)
	}
	buf := make([]byte, RequestFrameSize)
	binary.LittleEndian.PutUint32(buf[reqNameLenOff:], uint32(len(client)))
	copy(buf[reqNameOff:reqNameOff+NameFieldSize], client)
	binary.LittleEndian.PutUint32(buf[reqIDOff:], id)
	binary.LittleEndian.PutUint32(buf[reqKindOff:], uint32(kind))
	return buf, nil
}

// EncodeQuotaRequest builds a quota request reporting how far the client
// overran its previous grant and its estimated burst length.
func EncodeQuotaRequest(client string, id uint32, overuseMS, burstMS float64) ([]byte, error) {
	buf, err := newRequestFrame(client, id, KindQuota)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint64(buf[reqPayloadOff:], math.Float64bits(overuseMS))
	binary.LittleEndian.PutUint64(buf[reqPayloadOff+8:], math.Float64bits(burstMS))
	return buf, nil
}

// EncodeMemLimitRequest builds a memory usage/limit query.
func EncodeMemLimitRequest(client string, id uint32) ([]byte, error) {
	return newRequestFrame(client, id, KindMemLimit)
}

// EncodeMemUpdateRequest builds an allocation report. allocate true means
// bytes are being claimed, false means freed.
func EncodeMemUpdateRequest(client string, id uint32, bytes uint64, allocate bool) ([]byte, error) {
	buf, err := newRequestFrame(client, id, KindMemUpdate)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint64(buf[reqPayloadOff:], bytes)
	var flag uint32
	if allocate {
		flag = 1
	}
	binary.LittleEndian.PutUint32(buf[reqPayloadOff+8:], flag)
	return buf, nil
}

// DecodeRequest parses a request frame.
func DecodeRequest(frame []byte) (*Request, error) {
	if len(frame) < RequestFrameSize {
		return nil, fmt.Errorf("%w: request needs %d bytes, got %d", ErrShortFrame, RequestFrameSize, len(frame))
	}

	nameLen := binary.LittleEndian.Uint32(frame[reqNameLenOff:])
	if nameLen > NameFieldSize-1 {
		return nil, fmt.Errorf("%w: name length %d", ErrNameTooLong, nameLen)
	}

	req := &Request{
		Client: string(frame[reqNameOff : reqNameOff+nameLen]),
		ID:     binary.LittleEndian.Uint32(frame[reqIDOff:]),
		Kind:   Kind(binary.LittleEndian.Uint32(frame[reqKindOff:])),
	}
	if !req.Kind.valid() {
		return nil, fmt.Errorf("%w: %d", ErrBadKind, uint32(req.Kind))
	}

	switch req.Kind {
	case KindQuota:
		req.OveruseMS = math.Float64frombits(binary.LittleEndian.Uint64(frame[reqPayloadOff:]))
		req.BurstMS = math.Float64frombits(binary.LittleEndian.Uint64(frame[reqPayloadOff+8:]))
	case KindMemUpdate:
		req.Bytes = binary.LittleEndian.Uint64(frame[reqPayloadOff:])
		req.Allocate = binary.LittleEndian.Uint32(frame[reqPayloadOff+8:]) != 0
	}
	return req, nil
}

// ReadRequest reads exactly one request frame from r.
func ReadRequest(r io.Reader) (*Request, error) {
	frame := make([]byte, RequestFrameSize)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return DecodeRequest(frame)
}

func newResponseFrame(id uint32, kind Kind) []byte {
	buf := make([]byte, ResponseFrameSize)
	binary.LittleEndian.PutUint32(buf[rspIDOff:], id)
	binary.LittleEndian.PutUint32(buf[rspKindOff:], uint32(kind))
	return buf
}

// EncodeQuotaResponse builds the grant response carrying the quota in
// milliseconds the client may run for.
func EncodeQuotaResponse(id uint32, quotaMS float64) []byte {
	buf := newResponseFrame(id, KindQuota)
	binary.LittleEndian.PutUint64(buf[rspPayloadOff:], math.Float64bits(quotaMS))
	return buf
}

// EncodeMemLimitResponse builds the usage/limit answer.
func EncodeMemLimitResponse(id uint32, used, limit uint64) []byte {
	buf := newResponseFrame(id, KindMemLimit)
	binary.LittleEndian.PutUint64(buf[rspPayloadOff:], used)
	binary.LittleEndian.PutUint64(buf[rspPayloadOff+8:], limit)
	return buf
}

// EncodeMemUpdateResponse builds the verdict answer for an allocation
// report.
func EncodeMemUpdateResponse(id uint32, ok bool) []byte {
	buf := newResponseFrame(id, KindMemUpdate)
	var verdict uint32
	if ok {
		verdict = 1
	}
	binary.LittleEndian.PutUint32(buf[rspPayloadOff:], verdict)
	return buf
}

// DecodeResponse parses a response frame.
func DecodeResponse(frame []byte) (*Response, error) {
	if len(frame) < ResponseFrameSize {
		return nil, fmt.Errorf("%w: response needs %d bytes, got %d", ErrShortFrame, ResponseFrameSize, len(frame))
	}

	rsp := &Response{
		ID:   binary.LittleEndian.Uint32(frame[rspIDOff:]),
		Kind: Kind(binary.LittleEndian.Uint32(frame[rspKindOff:])),
	}
	if !rsp.Kind.valid() {
		return nil, fmt.Errorf("%w: %d", ErrBadKind, uint32(rsp.Kind))
	}

	switch rsp.Kind {
	case KindQuota:
		rsp.QuotaMS = math.Float64frombits(binary.LittleEndian.Uint64(frame[rspPayloadOff:]))
	case KindMemLimit:
		rsp.Used = binary.LittleEndian.Uint64(frame[rspPayloadOff:])
		rsp.Limit = binary.LittleEndian.Uint64(frame[rspPayloadOff+8:])
	case KindMemUpdate:
		rsp.OK = binary.LittleEndian.Uint32(frame[rspPayloadOff:]) != 0
	}
	return rsp, nil
}

// ReadResponse reads exactly one response frame from r.
func ReadResponse(r io.Reader) (*Response, error) {
	frame := make([]byte, ResponseFrameSize)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return DecodeResponse(frame)
}
