package delivery

import (
	"errors"
	"fmt"
	"testing"
)

func TestFirstErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"errors array", `{"errors":[{"message":"invalid recipient"}]}`, "invalid recipient"},
		{"first of several", `{"errors":[{"message":"first"},{"message":"second"}]}`, "first"},
		{"json string body", `"temporarily unavailable"`, "temporarily unavailable"},
		{"plain text body", `Internal Server Error`, "Internal Server Error"},
		{"empty object", `{}`, "Unknown error"},
		{"empty errors array", `{"errors":[]}`, "Unknown error"},
		{"message field empty", `{"errors":[{"message":""}]}`, "Unknown error"},
		{"empty body", ``, "Unknown error"},
		{"whitespace body", "  \n", "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstErrorMessage([]byte(tt.body)); got != tt.want {
				t.Errorf("firstErrorMessage(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestNamedErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message field", `{"message":"domain not found"}`, "domain not found"},
		{"json string body", `"forbidden"`, "forbidden"},
		{"plain text body", `Bad Gateway`, "Bad Gateway"},
		{"empty object", `{}`, "Unknown error"},
		{"empty body", ``, "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := namedErrorMessage([]byte(tt.body)); got != tt.want {
				t.Errorf("namedErrorMessage(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	te := &TransportError{Channel: "sparkpost", Err: cause}

	if !errors.Is(te, cause) {
		t.Error("TransportError does not unwrap to its cause")
	}
	want := "sparkpost transport: connection refused"
	if te.Error() != want {
		t.Errorf("Error() = %q, want %q", te.Error(), want)
	}
}
