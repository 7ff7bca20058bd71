package crypto

import "sync"

// Keyring holds the process-wide credential key. The key is loaded on first
// use and never changes afterwards, so concurrent readers need no locking.
type Keyring struct {
	once   sync.Once
	secret string
	key    []byte
	err    error
}

func NewKeyring(secret string) *Keyring {
	return &Keyring{secret: secret}
}

func (k *Keyring) load() ([]byte, error) {
	k.once.Do(func() {
		k.key, k.err = DeriveKey(k.secret)
		k.secret = ""
	})
	return k.key, k.err
}

// Seal encrypts a credential for storage.
func (k *Keyring) Seal(plaintext string) (string, error) {
	key, err := k.load()
	if err != nil {
		return "", err
	}
	return Encrypt([]byte(plaintext), key)
}

// Open decrypts a stored credential.
func (k *Keyring) Open(encoded string) (string, error) {
	key, err := k.load()
	if err != nil {
		return "", err
	}
	plaintext, err := Decrypt(encoded, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
