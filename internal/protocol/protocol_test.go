package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribeWildcardRoundTrip(t *testing.T) {
	sub := Subscribe{Type: TypeSubscribe, Sessions: SubscribeSessions{All: true}}
	data, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Subscribe
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Sessions.All {
		t.Fatalf("expected wildcard, got %+v", got.Sessions)
	}
}

func TestSubscribeNamesRoundTrip(t *testing.T) {
	sub := Subscribe{Type: TypeSubscribe, Sessions: SubscribeSessions{Names: []string{"demo", "other"}}}
	data, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Subscribe
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Sessions.All {
		t.Fatalf("expected concrete set, got wildcard")
	}
	if len(got.Sessions.Names) != 2 || got.Sessions.Names[0] != "demo" {
		t.Fatalf("unexpected names: %+v", got.Sessions.Names)
	}
}

func TestDecodeHello(t *testing.T) {
	raw := []byte(`{"type":"hello","client_version":"1.0.0","device_name":"phone-a"}`)
	v, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hello, ok := v.(Hello)
	if !ok {
		t.Fatalf("expected Hello, got %T", v)
	}
	if hello.DeviceName != "phone-a" {
		t.Fatalf("unexpected device name: %q", hello.DeviceName)
	}
}

func TestDecodeUnknownFieldsIgnored(t *testing.T) {
	raw := []byte(`{"type":"hello","client_version":"1.0.0","device_name":"phone-a","future_field":42}`)
	v, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode should ignore unknown fields: %v", err)
	}
	if v.(Hello).DeviceName != "phone-a" {
		t.Fatalf("unexpected decode result: %+v", v)
	}
}

func TestDecodeUnknownTypeRejected(t *testing.T) {
	raw := []byte(`{"type":"does_not_exist"}`)
	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 123456000, time.UTC)
	s := FormatTimestamp(now)
	got, err := ParseTimestamp(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("round trip mismatch: got %v want %v", got, now)
	}
}

func TestTimestampAcceptsVariants(t *testing.T) {
	cases := []string{
		"2026-07-29T12:00:00Z",
		"2026-07-29T12:00:00.5Z",
		"2026-07-29T12:00:00",
		"2026-07-29T12:00:00.123",
		"2026-07-29T12:00:00+02:00",
	}
	for _, c := range cases {
		if _, err := ParseTimestamp(c); err != nil {
			t.Errorf("ParseTimestamp(%q): %v", c, err)
		}
	}
}
