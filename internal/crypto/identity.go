package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Identity is the device's Ed25519 keypair, used to authenticate attachment
// presign requests. It is independent of the group passphrase.
type Identity struct {
	DeviceID   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

type identityFile struct {
	DeviceID  string `json:"device_id"`
	PublicKey string `json:"public_key"`
}

// NewIdentity generates a fresh device identity. Device IDs are UUIDv7 so
// they sort by creation time.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{
		DeviceID:   uuid.Must(uuid.NewV7()).String(),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// LoadIdentity loads the device identity from dir.
func LoadIdentity(dir string) (*Identity, error) {
	data, err := os.ReadFile(filepath.Join(dir, "device.json"))
	if err != nil {
		return nil, err
	}
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	keyData, err := os.ReadFile(filepath.Join(dir, "device.key"))
	if err != nil {
		return nil, err
	}
	seed, err := base64.StdEncoding.DecodeString(string(keyData))
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid device key: %d bytes", len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{
		DeviceID:   f.DeviceID,
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}, nil
}

// Save persists the identity under dir with owner-only permissions.
func (id *Identity) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(identityFile{
		DeviceID:  id.DeviceID,
		PublicKey: base64.StdEncoding.EncodeToString(id.PublicKey),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "device.json"), data, 0600); err != nil {
		return err
	}

	keyData := base64.StdEncoding.EncodeToString(id.PrivateKey.Seed())
	return os.WriteFile(filepath.Join(dir, "device.key"), []byte(keyData), 0600)
}

// LoadOrCreateIdentity loads the identity from dir, generating and persisting
// a fresh one on first run.
func LoadOrCreateIdentity(dir string) (*Identity, error) {
	id, err := LoadIdentity(dir)
	if err == nil {
		return id, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	id, err = NewIdentity()
	if err != nil {
		return nil, err
	}
	if err := id.Save(dir); err != nil {
		return nil, err
	}
	return id, nil
}

// SignRequest creates authentication headers for a request body.
// The signed payload is sha256(body)|nonce|timestamp.
func (id *Identity) SignRequest(body []byte) http.Header {
	hash := sha256.Sum256(body)
	hashHex := hex.EncodeToString(hash[:])

	nonceBytes := make([]byte, 12)
	rand.Read(nonceBytes)
	nonce := hex.EncodeToString(nonceBytes)

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	payload := fmt.Sprintf("%s|%s|%s", hashHex, nonce, timestamp)
	sig := ed25519.Sign(id.PrivateKey, []byte(payload))

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-HChat-Device", id.DeviceID)
	headers.Set("X-HChat-Nonce", nonce)
	headers.Set("X-HChat-Timestamp", timestamp)
	headers.Set("X-HChat-Signature", base64.StdEncoding.EncodeToString(sig))
	return headers
}
