package comm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestQuotaRequestRoundTrip(t *testing.T) {
	frame, err := EncodeQuotaRequest("podA", 7, 12.5, 80.0)
	if err != nil {
		t.Fatalf("EncodeQuotaRequest failed: %v", err)
	}
	if len(frame) != RequestFrameSize {
		t.Fatalf("Expected %d byte frame, got %d", RequestFrameSize, len(frame))
	}

	req, err := ReadRequest(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadRequest failed: %v", err)
	}
	if req.Client != "podA" || req.ID != 7 || req.Kind != KindQuota {
		t.Errorf("Unexpected header: %+v", req)
	}
	if req.OveruseMS != 12.5 || req.BurstMS != 80.0 {
		t.Errorf("Unexpected payload: overuse=%v burst=%v", req.OveruseMS, req.BurstMS)
	}
}

func TestMemUpdateRequestRoundTrip(t *testing.T) {
	frame, err := EncodeMemUpdateRequest("podB", 3, 1<<30, true)
	if err != nil {
		t.Fatalf("EncodeMemUpdateRequest failed: %v", err)
	}

	req, err := DecodeRequest(frame)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.Kind != KindMemUpdate || req.Bytes != 1<<30 || !req.Allocate {
		t.Errorf("Unexpected request: %+v", req)
	}

	// The free direction flips the flag
	frame, err = EncodeMemUpdateRequest("podB", 4, 4096, false)
	if err != nil {
		t.Fatalf("EncodeMemUpdateRequest failed: %v", err)
	}
	req, err = DecodeRequest(frame)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.Allocate {
		t.Error("Expected free request, got allocate")
	}
}

func TestResponseRoundTrips(t *testing.T) {
	rsp, err := DecodeResponse(EncodeQuotaResponse(9, 125.0))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if rsp.ID != 9 || rsp.Kind != KindQuota || rsp.QuotaMS != 125.0 {
		t.Errorf("Unexpected quota response: %+v", rsp)
	}

	rsp, err = DecodeResponse(EncodeMemLimitResponse(10, 512, 2048))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if rsp.Used != 512 || rsp.Limit != 2048 {
		t.Errorf("Unexpected mem limit response: %+v", rsp)
	}

	rsp, err = DecodeResponse(EncodeMemUpdateResponse(11, false))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if rsp.OK {
		t.Error("Expected rejected verdict")
	}
}

func TestRequestIDPassedBackVerbatim(t *testing.T) {
	// The daemon echoes the request ID untouched; clients match on it
	frame, err := EncodeQuotaRequest("podA", 0xDEAD, 0, 0)
	if err != nil {
		t.Fatalf("EncodeQuotaRequest failed: %v", err)
	}
	req, err := DecodeRequest(frame)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}

	rsp, err := DecodeResponse(EncodeQuotaResponse(req.ID, 100))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if rsp.ID != 0xDEAD {
		t.Errorf("Request ID not preserved: got %#x", rsp.ID)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := DecodeRequest(make([]byte, 10)); !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}
	if _, err := DecodeResponse(make([]byte, 10)); !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}

	if _, err := EncodeQuotaRequest(strings.Repeat("x", NameFieldSize), 1, 0, 0); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("Expected ErrNameTooLong, got %v", err)
	}

	// A frame with an out-of-range kind must be rejected
	frame, err := EncodeMemLimitRequest("podA", 1)
	if err != nil {
		t.Fatalf("EncodeMemLimitRequest failed: %v", err)
	}
	frame[reqKindOff] = 0xFF
	if _, err := DecodeRequest(frame); !errors.Is(err, ErrBadKind) {
		t.Errorf("Expected ErrBadKind, got %v", err)
	}
}
