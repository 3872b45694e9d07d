package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsrun/opsrun/internal/errors"
)

func TestStaticPrompter(t *testing.T) {
	p := &StaticPrompter{
		Passphrases: map[string]string{"/keys/id_ed25519": "hunter2"},
		Passwords:   map[string]string{"ops@db01": "secret"},
	}

	pass, err := p.Passphrase("/keys/id_ed25519")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pass)

	_, err = p.Passphrase("/keys/other")
	assert.True(t, errors.IsCode(err, errors.ErrAuth))

	pw, err := p.Password("ops", "db01")
	require.NoError(t, err)
	assert.Equal(t, "secret", pw)

	_, err = p.Password("ops", "web01")
	assert.True(t, errors.IsCode(err, errors.ErrAuth))
}

func TestTerminalPrompter_CacheAndForget(t *testing.T) {
	p := NewTerminalPrompter()

	// Seed the cache directly; prompting requires a TTY.
	p.passphrases["/keys/id_ed25519"] = "hunter2"

	pass, err := p.Passphrase("/keys/id_ed25519")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pass)

	p.Forget("/keys/id_ed25519")
	_, ok := p.passphrases["/keys/id_ed25519"]
	assert.False(t, ok)
}

func TestTerminalPrompter_NoTerminalFailsCleanly(t *testing.T) {
	p := NewTerminalPrompter()

	// Test processes have no controlling terminal on stdin.
	_, err := p.Passphrase("/keys/uncached")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAuth))

	// The error must not echo any secret material, only the key path.
	assert.NotContains(t, err.Error(), "hunter2")
}
