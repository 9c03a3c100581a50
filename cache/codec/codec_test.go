package codec

import (
	"strings"
	"testing"
	"time"
)

type payload struct {
	ID      string        `json:"id" msgpack:"id"`
	Score   int64         `json:"score" msgpack:"score"`
	Elapsed time.Duration `json:"elapsed" msgpack:"elapsed"`
	Seen    time.Time     `json:"seen" msgpack:"seen"`
}

func roundTrip(t *testing.T, c Codec[payload]) {
	t.Helper()
	in := payload{
		ID:      "u42",
		Score:   1337,
		Elapsed: 90 * time.Minute,
		Seen:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.ID != in.ID || out.Score != in.Score || out.Elapsed != in.Elapsed {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
	if !out.Seen.Equal(in.Seen) {
		t.Fatalf("time mismatch: %v != %v", out.Seen, in.Seen)
	}
}

func TestJSONRoundTrip(t *testing.T)    { roundTrip(t, JSON[payload]{}) }
func TestMsgpackRoundTrip(t *testing.T) { roundTrip(t, Msgpack[payload]{}) }
func TestCBORRoundTrip(t *testing.T)    { roundTrip(t, MustCBOR[payload]()) }

func TestJSONStaysInspectable(t *testing.T) {
	raw, err := JSON[payload]{}.Encode(payload{ID: "u1", Score: 5})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(raw), `"id":"u1"`) {
		t.Fatalf("expected readable JSON, got %q", raw)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := (JSON[payload]{}).Decode([]byte("{nope")); err == nil {
		t.Fatalf("json: expected decode error")
	}
	if _, err := (Msgpack[payload]{}).Decode([]byte{0xc1}); err == nil {
		t.Fatalf("msgpack: expected decode error")
	}
}

func TestLimitRejectsOversizedPayloads(t *testing.T) {
	c := Limit[payload]{Inner: JSON[payload]{}, MaxDecode: 8}

	raw, err := c.Encode(payload{ID: "u1", Score: 5})
	if err != nil {
		t.Fatalf("Encode must be unaffected by the limit: %v", err)
	}
	if len(raw) <= c.MaxDecode {
		t.Fatalf("test payload too small to exercise the limit")
	}
	if _, err := c.Decode(raw); err == nil {
		t.Fatalf("expected oversized payload rejection")
	}

	// Disabled limit passes everything through.
	open := Limit[payload]{Inner: JSON[payload]{}}
	if _, err := open.Decode(raw); err != nil {
		t.Fatalf("unlimited decode: %v", err)
	}
}
