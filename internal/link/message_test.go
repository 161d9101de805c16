package link

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMessage_RoundTrip(t *testing.T) {
	tests := []Message{
		{ID: 0, Payload: "GET button"},
		{ID: 1, Payload: "ON"},
		{ID: 7, Payload: "12.5 30.0 99.9"},
		{ID: 42, Payload: "MOTOR 1500 1500"},
		{ID: 18446744073709551615, Payload: "Rescue 00901"},
		{ID: 3, Payload: "two  spaces inside"},
		{ID: 9, Payload: ""},
	}
	for _, want := range tests {
		got, err := Decode(want.Encode())
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", want.Encode(), err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		line string
		want Message
	}{
		{"5 ON", Message{ID: 5, Payload: "ON"}},
		{"5\tON\r\n", Message{ID: 5, Payload: "ON"}},
		{"  6   GET ultrasonic", Message{ID: 6, Payload: "GET ultrasonic"}},
		{"8", Message{ID: 8}},
	}
	for _, tt := range tests {
		got, err := Decode(tt.line)
		if err != nil {
			t.Errorf("Decode(%q) error = %v", tt.line, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Decode(%q) mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, line := range []string{"", "[ESP32] READY", "ON", "-1 ON", "1.5 ON", "abc 1"} {
		if _, err := Decode(line); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", line, err)
		}
	}
}

func TestMessage_Encode(t *testing.T) {
	if got := (Message{ID: 12, Payload: "Wire 0"}).Encode(); got != "12 Wire 0\n" {
		t.Errorf("Encode() = %q", got)
	}
}
