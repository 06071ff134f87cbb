package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// FileStore persists the session encrypted at rest: argon2id key derivation
// over a per-file random salt, XChaCha20-Poly1305 sealing. This is the
// "secure, access-controlled local storage", kept separate from any
// general-purpose cache.
type FileStore struct {
	path       string
	passphrase []byte
}

const fileStoreSaltLen = 16

// NewFileStore creates a store writing to path, sealed with passphrase.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("session: file store path is required")
	}
	if passphrase == "" {
		return nil, errors.New("session: file store passphrase is required")
	}
	return &FileStore{path: path, passphrase: []byte(passphrase)}, nil
}

func (f *FileStore) deriveKey(salt []byte) []byte {
	return argon2.IDKey(f.passphrase, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

func (f *FileStore) Load(ctx context.Context) (Session, bool, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("session: read token file: %w", err)
	}
	if len(raw) < fileStoreSaltLen+chacha20poly1305.NonceSizeX {
		return Session{}, false, errors.New("session: token file truncated")
	}
	salt := raw[:fileStoreSaltLen]
	nonce := raw[fileStoreSaltLen : fileStoreSaltLen+chacha20poly1305.NonceSizeX]
	box := raw[fileStoreSaltLen+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(f.deriveKey(salt))
	if err != nil {
		return Session{}, false, err
	}
	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return Session{}, false, fmt.Errorf("session: unseal token file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(plain, &s); err != nil {
		return Session{}, false, fmt.Errorf("session: decode token file: %w", err)
	}
	return s, !s.IsZero(), nil
}

func (f *FileStore) Save(ctx context.Context, s Session) error {
	plain, err := json.Marshal(s)
	if err != nil {
		return err
	}
	salt := make([]byte, fileStoreSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(f.deriveKey(salt))
	if err != nil {
		return err
	}
	box := aead.Seal(nil, nonce, plain, nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(box))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, box...)

	// Write through a temp file so a crash never leaves a torn session.
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}

func (f *FileStore) Clear(ctx context.Context) error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
