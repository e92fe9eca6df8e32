package x402

import (
	"testing"
)

func TestEncodeDecode_Challenge(t *testing.T) {
	ch := Challenge{
		X402Version: Version,
		Scheme:      SchemeChannel,
		ChainID:     31337,
		Network:     "eip155:31337",
		PayTo:       "0x3333333333333333333333333333333333333333",
		Asset:       "0x4444444444444444444444444444444444444444",
		MaxAmount:   "10000",
		Expiry:      1_700_000_300,
		Extra: ChallengeExtra{
			EscrowAddress:      "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			MinDeposit:         "10000000",
			FacilitatorAddress: "0x2222222222222222222222222222222222222222",
			FacilitatorBond:    "100000000",
		},
	}

	encoded, err := Encode(ch)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var back Challenge
	if err := Decode(encoded, &back); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back != ch {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, ch)
	}
}

func TestDecode_PaymentPayloadVariants(t *testing.T) {
	payload := PaymentPayload{
		X402Version:  Version,
		Scheme:       SchemeChannel,
		AgentAddress: "0x1111111111111111111111111111111111111111",
		Signature:    "0xdeadbeef",
		Channel: &ChannelAuthorization{
			Scheme:        SchemeChannel,
			EscrowAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			SessionID:     "sess-1",
			Nonce:         7,
			Timestamp:     1_700_000_000,
		},
	}
	encoded, err := Encode(payload)
	if err != nil {
		t.Fatal(err)
	}
	var back PaymentPayload
	if err := Decode(encoded, &back); err != nil {
		t.Fatal(err)
	}
	if back.Scheme != SchemeChannel || back.Channel == nil || back.Exact != nil {
		t.Errorf("channel variant not preserved: %+v", back)
	}
	if back.Channel.Nonce != 7 || back.Channel.SessionID != "sess-1" {
		t.Errorf("authorization fields lost: %+v", back.Channel)
	}
}

func TestDecode_MalformedBase64(t *testing.T) {
	var out Challenge
	if err := Decode("!!not-base64!!", &out); err == nil {
		t.Error("expected error for malformed base64")
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"10000", 10_000, false},
		{"10000000", 10_000_000, false},
		{"-1", 0, true},
		{"1.5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := ParseAmount(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q): expected error, got %s", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q): %v", c.in, err)
			continue
		}
		if got.Int64() != c.want {
			t.Errorf("ParseAmount(%q) = %s, want %d", c.in, got, c.want)
		}
	}
}

func TestFormatAmount_RoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "10000000", "115792089237316195423570985008687907853269984665640564039457"} {
		n, err := ParseAmount(s)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", s, err)
		}
		if got := FormatAmount(n); got != s {
			t.Errorf("FormatAmount(ParseAmount(%q)) = %q", s, got)
		}
	}
}
