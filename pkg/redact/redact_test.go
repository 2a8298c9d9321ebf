package redact

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	assert.Equal(t, in, Text(in))
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	t.Cleanup(func() { SetEnabled(false) })

	got := Text("email a@b.com and phone +62 812 3456 7890")
	assert.Contains(t, got, "[REDACTED_EMAIL]")
	assert.Contains(t, got, "[REDACTED_PHONE]")
	assert.NotContains(t, got, "a@b.com")
}

func TestSecret(t *testing.T) {
	assert.Equal(t, "Bearer [REDACTED]", Secret("Bearer eyJhbGciOi.eyJzdWIi.c2ln"))
	assert.Equal(t,
		`Signature version="1",keyId="k",signature="[REDACTED]"`,
		Secret(`Signature version="1",keyId="k",signature="YWJjZA=="`))
	assert.Equal(t, "nothing here", Secret("nothing here"))
}

func TestHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer abc.def")
	h.Set("Passcode", "hunter2")
	h.Set("Host", "example.com")

	got := Headers(h)
	assert.Equal(t, "Bearer [REDACTED]", got["Authorization"])
	assert.Equal(t, "[REDACTED]", got["Passcode"])
	assert.Equal(t, "example.com", got["Host"])
}
