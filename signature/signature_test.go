package signature

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSigningPayload(t *testing.T) {
	got := BuildSigningPayload("post", "/checkout_sessions", "2025-01-01T00:00:00Z", []byte(`{"a":1}`))
	assert.Equal(t, "POST\n/checkout_sessions\n2025-01-01T00:00:00Z\n{\"a\":1}", string(got))
}

func TestHMACVerifier(t *testing.T) {
	key := []byte("secret")
	body := []byte(`{"items":[]}`)
	stamp := "2025-01-01T00:00:00Z"
	sig := Sign(key, "POST", "/checkout_sessions", stamp, body)

	material := Material{
		Signature:       sig,
		TimestampHeader: stamp,
		Body:            body,
		Method:          "POST",
		Path:            "/checkout_sessions",
	}
	require.NoError(t, HMACVerifier{Key: key}.Verify(context.Background(), material))

	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	material.Signature = base64.RawURLEncoding.EncodeToString(raw)
	require.NoError(t, HMACVerifier{Key: key}.Verify(context.Background(), material), "url-safe alphabet accepted")

	material.Body = []byte(`{"items":[1]}`)
	assert.ErrorIs(t, HMACVerifier{Key: key}.Verify(context.Background(), material), ErrInvalidSignature)

	assert.Error(t, HMACVerifier{}.Verify(context.Background(), material), "empty key")
}

func TestDecodeSignature(t *testing.T) {
	_, err := DecodeSignature("")
	assert.Error(t, err)
	_, err = DecodeSignature("!!!")
	assert.Error(t, err)
	got, err := DecodeSignature("aGk=")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestReadAndBufferBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("payload"))
	first, err := ReadAndBufferBody(req)
	require.NoError(t, err)
	second, err := ReadAndBufferBody(req)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(first))
	assert.Equal(t, first, second)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2025-01-01T12:00:00.5Z")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2025, 1, 1, 12, 0, 0, 5e8, time.UTC)))

	_, err = ParseTimestamp("1735732800")
	assert.Error(t, err)
}

func TestAbsDuration(t *testing.T) {
	assert.Equal(t, time.Minute, AbsDuration(-time.Minute))
	assert.Equal(t, time.Minute, AbsDuration(time.Minute))
}

func TestCanonicalizeJSONBody(t *testing.T) {
	a, err := CanonicalizeJSONBody([]byte(`{"b": 2, "a": [1, 2]}`))
	require.NoError(t, err)
	b, err := CanonicalizeJSONBody([]byte(`{"a":[1,2],"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	empty, err := CanonicalizeJSONBody(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(empty))

	_, err = CanonicalizeJSONBody([]byte(`{} {}`))
	assert.Error(t, err)
}
