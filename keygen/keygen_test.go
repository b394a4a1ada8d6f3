package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestGenerate(t *testing.T) {
	var out bytes.Buffer
	src := bytes.NewReader([]byte("0123456789abcdef"))
	if code := generate(&out, src); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if want := "\"uid_key\": \"MDEyMzQ1Njc4OWFiY2RlZg==\"\n"; out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestGenerateShortRead(t *testing.T) {
	var out bytes.Buffer
	if code := generate(&out, iotest.ErrReader(errors.New("no entropy"))); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		key  string
		code int
		out  string
	}{
		{"la6YsO+bNX/+XIkOqc5Svw==", 0, "Valid"},
		{"not base64!", 1, "not base64"},
		{"c2hvcnQ=", 1, "must be 16 bytes"},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		if code := validate(&out, tc.key); code != tc.code {
			t.Errorf("%s: expected exit code %d, got %d", tc.key, tc.code, code)
		}
		if !strings.Contains(out.String(), tc.out) {
			t.Errorf("%s: unexpected output %q", tc.key, out.String())
		}
	}
}
