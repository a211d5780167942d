package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	payload, err := EncryptString("key", "ghp_token")
	require.NoError(t, err)

	plain, err := DecryptToString("key", payload)
	require.NoError(t, err)
	assert.Equal(t, "ghp_token", plain)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	payload, err := EncryptString("key", "ghp_token")
	require.NoError(t, err)

	_, err = DecryptToString("other", payload)
	assert.Error(t, err)
}

func TestDecryptShortPayload(t *testing.T) {
	_, err := DecryptToString("key", []byte{1, 2})
	assert.Error(t, err)
}
