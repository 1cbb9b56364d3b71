package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when reading a buffer after Destroy.
var ErrDestroyed = errors.New("secure buffer destroyed")

// Buffer holds one secret string sealed in a memguard enclave.
// memguard refuses to seal empty input, so the empty string is tracked
// with a flag instead of an enclave.
type Buffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	empty     bool
	destroyed bool
}

// NewString seals s. The Go string itself cannot be wiped; callers should
// drop their reference to it promptly.
func NewString(s string) *Buffer {
	if s == "" {
		return &Buffer{empty: true}
	}
	return &Buffer{enclave: memguard.NewEnclave([]byte(s))}
}

// Reveal decrypts the buffer and returns a copy of the plaintext.
func (b *Buffer) Reveal() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return "", ErrDestroyed
	}
	if b.empty {
		return "", nil
	}

	locked, err := b.enclave.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	// string() copies; LockedBuffer.String aliases memory wiped by Destroy.
	return string(locked.Bytes()), nil
}

// Len is the plaintext length in bytes, without decrypting.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.destroyed || b.empty {
		return 0
	}
	return b.enclave.Size()
}

// Destroy drops the enclave. It is safe to call more than once.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enclave = nil
	b.destroyed = true
}

// Purge wipes every memguard allocation in the process. Call it at exit.
func Purge() {
	memguard.Purge()
}
