package fieldcrypt

import (
	"encoding/base64"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	secret, err := GenerateSecret()
	require.NoError(t, err)
	return New(StaticSecret(secret))
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	inputs := []string{"", "Ada Lovelace", "ada@example.com", "ünïcødé ✓", strings.Repeat("x", 4096)}
	for _, in := range inputs {
		ct, err := store.Encrypt(in)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ct, prefix))

		out, err := store.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestStore_EncryptIsRandomised(t *testing.T) {
	store := newTestStore(t)

	a, err := store.Encrypt("same value")
	require.NoError(t, err)
	b, err := store.Encrypt("same value")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestStore_DecryptRejectsTampering(t *testing.T) {
	store := newTestStore(t)

	ct, err := store.Encrypt("ticket holder")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(ct, prefix))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := prefix + base64.RawURLEncoding.EncodeToString(raw)

	_, err = store.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrEncryption)

	_, err = store.Decrypt("plain text")
	assert.ErrorIs(t, err, ErrEncryption)

	_, err = store.Decrypt(prefix + "!!!")
	assert.ErrorIs(t, err, ErrEncryption)

	_, err = store.Decrypt(prefix + "AAAA")
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestStore_DecryptWithWrongKeyFails(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)

	ct, err := a.Encrypt("secret")
	require.NoError(t, err)

	_, err = b.Decrypt(ct)
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestStore_BadSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"missing", ""},
		{"not base64", "%%%not-base64%%%"},
		{"short", base64.StdEncoding.EncodeToString([]byte("too short"))},
		{"long", base64.StdEncoding.EncodeToString(make([]byte, 48))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := New(StaticSecret(tt.secret))

			_, err := store.Encrypt("x")
			assert.ErrorIs(t, err, ErrEncryption)
			_, err = store.Decrypt(prefix + "AAAA")
			assert.ErrorIs(t, err, ErrEncryption)
			_, err = store.BlindIndex("x")
			assert.ErrorIs(t, err, ErrEncryption)
		})
	}

	_, err := New(nil).Encrypt("x")
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestStore_BlindIndexDeterministic(t *testing.T) {
	store := newTestStore(t)

	a, err := store.BlindIndex("abc123")
	require.NoError(t, err)
	b, err := store.BlindIndex("abc123")
	require.NoError(t, err)
	c, err := store.BlindIndex("  ABC123 ")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c, "index is computed over the canonical form")
	assert.Len(t, a, 64)
}

func TestStore_BlindIndexDistinct(t *testing.T) {
	store := newTestStore(t)

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		idx, err := store.BlindIndex(strconv.Itoa(i))
		require.NoError(t, err)
		seen[idx] = struct{}{}
	}
	assert.Len(t, seen, 10000)
}

func TestStore_BlindIndexIndependentOfEncryption(t *testing.T) {
	store := newTestStore(t)

	idx, err := store.BlindIndex("value")
	require.NoError(t, err)
	ct, err := store.Encrypt("value")
	require.NoError(t, err)

	assert.NotContains(t, ct, idx)
}

func TestStore_RederivesWhenSecretChanges(t *testing.T) {
	first, err := GenerateSecret()
	require.NoError(t, err)
	second, err := GenerateSecret()
	require.NoError(t, err)

	var mu sync.Mutex
	current := first
	store := New(func() string {
		mu.Lock()
		defer mu.Unlock()
		return current
	})

	idxBefore, err := store.BlindIndex("token")
	require.NoError(t, err)
	ct, err := store.Encrypt("payload")
	require.NoError(t, err)

	mu.Lock()
	current = second
	mu.Unlock()

	idxAfter, err := store.BlindIndex("token")
	require.NoError(t, err)
	assert.NotEqual(t, idxBefore, idxAfter)

	_, err = store.Decrypt(ct)
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)

	before, err := store.BlindIndex("token")
	require.NoError(t, err)

	store.Reset()
	assert.Nil(t, store.keys)

	after, err := store.BlindIndex("token")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_Optional(t *testing.T) {
	store := newTestStore(t)

	ct, err := store.EncryptOptional("")
	require.NoError(t, err)
	assert.Empty(t, ct)

	pt, err := store.DecryptOptional("")
	require.NoError(t, err)
	assert.Empty(t, pt)

	ct, err = store.EncryptOptional("07700 900123")
	require.NoError(t, err)
	pt, err = store.DecryptOptional(ct)
	require.NoError(t, err)
	assert.Equal(t, "07700 900123", pt)
}

func TestStore_ConcurrentUse(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct, err := store.Encrypt("concurrent")
			assert.NoError(t, err)
			pt, err := store.Decrypt(ct)
			assert.NoError(t, err)
			assert.Equal(t, "concurrent", pt)
		}()
	}
	wg.Wait()
}
