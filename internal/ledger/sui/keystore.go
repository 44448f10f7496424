package sui

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/cryptox"
	"github.com/dmitrijs2005/promptseal/internal/filex"
)

// ErrWrongPassphrase is returned when a keystore cannot be opened.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted keystore")

// keystoreFile is the on-disk format: the Ed25519 seed sealed with a key
// derived from the passphrase.
type keystoreFile struct {
	Version    int               `json:"version"`
	Address    string            `json:"address"`
	KDF        cryptox.KDFParams `json:"kdf"`
	Salt       []byte            `json:"salt"`
	Nonce      []byte            `json:"nonce"`
	Ciphertext []byte            `json:"ciphertext"`
}

// GenerateKey creates a new Ed25519 key from rnd (crypto/rand when nil).
func GenerateKey(rnd io.Reader) (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rnd)
	return priv, err
}

// SaveKeystore encrypts key with passphrase and writes it atomically to path.
func SaveKeystore(path string, key ed25519.PrivateKey, passphrase []byte) error {
	salt := common.GenerateRandByteArray(cryptox.SaltSize)

	kek := cryptox.DeriveKey(passphrase, salt, cryptox.DefaultKDF)
	defer common.WipeByteArray(kek)

	addr := Address(key.Public().(ed25519.PublicKey))
	ct, nonce, err := cryptox.Encrypt(kek, key.Seed(), []byte(addr), nil)
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}

	data, err := json.MarshalIndent(keystoreFile{
		Version:    1,
		Address:    addr,
		KDF:        cryptox.DefaultKDF,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ct,
	}, "", "  ")
	if err != nil {
		return err
	}

	return filex.WriteFileAtomic(path, data, 0o600)
}

// LoadKeystore reads and decrypts the key at path.
func LoadKeystore(path string, passphrase []byte) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	if ks.Version != 1 {
		return nil, fmt.Errorf("unsupported keystore version %d", ks.Version)
	}

	kek := cryptox.DeriveKey(passphrase, ks.Salt, ks.KDF)
	defer common.WipeByteArray(kek)

	seed, err := cryptox.Decrypt(kek, ks.Ciphertext, ks.Nonce, []byte(ks.Address))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	defer common.WipeByteArray(seed)

	if len(seed) != ed25519.SeedSize {
		return nil, ErrWrongPassphrase
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// KeystoreAddress returns the address recorded in the keystore without
// decrypting it.
func KeystoreAddress(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return "", fmt.Errorf("parse keystore: %w", err)
	}
	return ks.Address, nil
}
