package codec

import (
	"encoding/base64"
	"testing"
)

func mustBase64(t *testing.T, text string) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	return b
}

func encodeRaw(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
