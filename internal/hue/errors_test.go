package hue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAPIError_Is(t *testing.T) {
	tests := []struct {
		typ    int
		target error
		want   bool
	}{
		{ErrorTypeUnauthorized, ErrUnauthorized, true},
		{ErrorTypeLinkButtonNotPressed, ErrLinkButtonNotPressed, true},
		{ErrorTypeLinkButtonNotPressed, ErrUnauthorized, false},
		{ErrorTypeResourceNotAvailable, ErrResourceNotAvailable, true},
		{ErrorTypeInvalidValue, ErrValidationRejected, true},
		{ErrorTypeMissingParameter, ErrValidationRejected, true},
		{ErrorTypeResourceNotAvailable, ErrValidationRejected, false},
		{ErrorTypeTooManyItems, ErrCapacityExceeded, true},
		{ErrorTypeSceneBufferFull, ErrCapacityExceeded, true},
		{ErrorTypePortalRequired, ErrCapacityExceeded, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("type_%d/%v", tt.typ, tt.target), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &APIError{Type: tt.typ})
			if got := errors.Is(err, tt.target); got != tt.want {
				t.Errorf("errors.Is(type %d, %v) = %v, want %v", tt.typ, tt.target, got, tt.want)
			}
		})
	}
}

func TestAPIError_MessageBounded(t *testing.T) {
	err := &APIError{
		Type:        ErrorTypeInvalidValue,
		Address:     "/scenes/" + strings.Repeat("a", 10000),
		Description: strings.Repeat("b", 10000),
	}
	if n := len(err.Error()); n > 2*MaxDiagnosticLength+64 {
		t.Errorf("len(Error()) = %d, want bounded", n)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"cut", "abcdef", 3, "abc..."},
		{"zero", "abc", 0, ""},
		{"rune_boundary", "héllo", 2, "h..."},
		{"empty", "", 3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("probe: %w", &TransportError{Kind: Unreachable, Method: "GET", URL: "http://x/api/0/config", Err: cause})

	if !IsTransport(err) {
		t.Error("IsTransport() = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Error("TransportError must unwrap to its cause")
	}
	if IsTransport(&APIError{Type: 1}) {
		t.Error("IsTransport(APIError) = true, want false")
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    BridgeAddress
		wantStr string
		wantErr bool
	}{
		{in: "192.168.1.50", want: BridgeAddress{Host: "192.168.1.50"}, wantStr: "192.168.1.50"},
		{in: "192.168.1.50:8080", want: BridgeAddress{Host: "192.168.1.50", Port: 8080}, wantStr: "192.168.1.50:8080"},
		{in: "http://philips-hue.local/", want: BridgeAddress{Host: "philips-hue.local"}, wantStr: "philips-hue.local"},
		{in: " bridge ", want: BridgeAddress{Host: "bridge"}, wantStr: "bridge"},
		{in: "[fe80::1]:80", want: BridgeAddress{Host: "fe80::1", Port: 80}, wantStr: "[fe80::1]:80"},
		{in: "fe80::1", want: BridgeAddress{Host: "fe80::1"}, wantStr: "[fe80::1]"},
		{in: "", wantErr: true},
		{in: "bad host", wantErr: true},
		{in: "host:0", wantErr: true},
		{in: "host:99999", wantErr: true},
		{in: "host:abc", wantErr: true},
		{in: strings.Repeat("a", 300), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("ParseAddress(%q) error = %v, want ErrInvalidAddress", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if got.String() != tt.wantStr {
				t.Errorf("String() = %q, want %q", got.String(), tt.wantStr)
			}
		})
	}
}
