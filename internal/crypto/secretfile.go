// Package crypto implements the encrypted attachment container and the
// device identity used to authenticate presign requests.
//
// An attachment is sealed with a group passphrase into a ".hcss" container:
// a length-prefixed JSON header followed by fixed-size AEAD chunks. The
// header fully determines key derivation and every chunk's nonce, so chunk
// ordering in the container is part of the security contract.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// ContainerSuffix marks encrypted payloads that are not directly
	// renderable.
	ContainerSuffix = ".hcss"

	// DefaultChunkSize is the plaintext chunk size used when none is
	// configured.
	DefaultChunkSize = 256 * 1024

	secretVersion = 1
	secretAlg     = "chacha20poly1305"
	secretInfo    = "hchat-secret-v1"
	chunkAADTag   = "hchat-chunk"

	saltSize        = 16
	noncePrefixSize = 8
	tagSize         = 16
	maxHeaderSize   = 4096
)

var (
	// ErrBadHeader is returned when the container header is malformed.
	ErrBadHeader = errors.New("secret: malformed container header")

	// ErrBadVersion is returned for an unrecognized container version.
	ErrBadVersion = errors.New("secret: unsupported container version")

	// ErrBadAlgorithm is returned for an unrecognized algorithm tag.
	ErrBadAlgorithm = errors.New("secret: unsupported algorithm")

	// ErrBadNonce is returned when the header's nonce prefix is unusable.
	ErrBadNonce = errors.New("secret: bad nonce prefix")

	// ErrDecryptionFailed is returned when any chunk fails authentication.
	// The whole decode aborts; no corrupt plaintext is ever substituted.
	ErrDecryptionFailed = errors.New("secret: decryption failed")
)

// SecretHeader fully determines key derivation and per-chunk nonce
// reconstruction for one encrypted file. Written once, never mutated.
type SecretHeader struct {
	Version        int    `json:"version"`
	Alg            string `json:"alg"`
	Info           string `json:"info"`
	SaltB64        string `json:"saltB64"`
	NoncePrefixB64 string `json:"noncePrefixB64"`
	ChunkSize      int    `json:"chunkSize"`
	FileSize       int64  `json:"fileSize"`
	ChunkCount     int    `json:"chunkCount"`
}

func (h *SecretHeader) salt() ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(h.SaltB64)
	if err != nil || len(salt) != saltSize {
		return nil, ErrBadHeader
	}
	return salt, nil
}

func (h *SecretHeader) noncePrefix() ([]byte, error) {
	prefix, err := base64.StdEncoding.DecodeString(h.NoncePrefixB64)
	if err != nil || len(prefix) != noncePrefixSize {
		return nil, ErrBadNonce
	}
	return prefix, nil
}

// chunkPlaintextLen returns the plaintext length of the chunk at index. Only
// the final chunk may be short.
func (h *SecretHeader) chunkPlaintextLen(index int) int {
	if index == h.ChunkCount-1 {
		if rem := h.FileSize % int64(h.ChunkSize); rem != 0 {
			return int(rem)
		}
	}
	return h.ChunkSize
}

func chunkCountFor(fileSize int64, chunkSize int) int {
	if fileSize == 0 {
		return 0
	}
	return int((fileSize + int64(chunkSize) - 1) / int64(chunkSize))
}

// deriveKey derives the 32-byte file key with HKDF-SHA256. The passphrase is
// hashed first so a very short passphrase is never used directly as input
// key material.
func deriveKey(passphrase string, salt []byte, info string) ([]byte, error) {
	ikm := sha256.Sum256([]byte(passphrase))
	r := hkdf.New(sha256.New, ikm[:], salt, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// chunkNonce is a pure function of the file's nonce prefix and the chunk
// index: prefix (8 bytes) followed by the big-endian index.
func chunkNonce(prefix []byte, index uint32) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce, prefix)
	binary.BigEndian.PutUint32(nonce[noncePrefixSize:], index)
	return nonce
}

// chunkAAD binds a chunk's ciphertext to its position in the container, so
// reordered or spliced chunks fail authentication instead of decrypting.
func chunkAAD(index uint32) []byte {
	aad := make([]byte, len(chunkAADTag)+4)
	copy(aad, chunkAADTag)
	binary.BigEndian.PutUint32(aad[len(chunkAADTag):], index)
	return aad
}

func writeHeader(dst io.Writer, h *SecretHeader) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := dst.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = dst.Write(data)
	return err
}

// ReadHeader reads and validates a container header. It fails fast with a
// distinct error for an unrecognized version or algorithm tag.
func ReadHeader(src io.Reader) (*SecretHeader, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(src, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("%w: header length %d", ErrBadHeader, n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(src, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}

	h := &SecretHeader{}
	if err := json.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Version != secretVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadVersion, h.Version)
	}
	if h.Alg != secretAlg {
		return nil, fmt.Errorf("%w: %q", ErrBadAlgorithm, h.Alg)
	}
	if h.ChunkSize <= 0 || h.FileSize < 0 {
		return nil, ErrBadHeader
	}
	if h.ChunkCount != chunkCountFor(h.FileSize, h.ChunkSize) {
		return nil, fmt.Errorf("%w: inconsistent chunk count", ErrBadHeader)
	}
	if _, err := h.salt(); err != nil {
		return nil, err
	}
	if _, err := h.noncePrefix(); err != nil {
		return nil, err
	}
	return h, nil
}

// Encrypt seals fileSize bytes from src into dst as a container, chunk by
// chunk, so neither side needs to hold the whole file in memory. Salt and
// nonce prefix are generated fresh per file.
func Encrypt(dst io.Writer, src io.Reader, fileSize int64, passphrase string, chunkSize int) (*SecretHeader, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	prefix := make([]byte, noncePrefixSize)
	if _, err := rand.Read(prefix); err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase, salt, secretInfo)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	h := &SecretHeader{
		Version:        secretVersion,
		Alg:            secretAlg,
		Info:           secretInfo,
		SaltB64:        base64.StdEncoding.EncodeToString(salt),
		NoncePrefixB64: base64.StdEncoding.EncodeToString(prefix),
		ChunkSize:      chunkSize,
		FileSize:       fileSize,
		ChunkCount:     chunkCountFor(fileSize, chunkSize),
	}
	if err := writeHeader(dst, h); err != nil {
		return nil, err
	}

	buf := make([]byte, chunkSize)
	for i := 0; i < h.ChunkCount; i++ {
		plainLen := h.chunkPlaintextLen(i)
		if _, err := io.ReadFull(src, buf[:plainLen]); err != nil {
			return nil, fmt.Errorf("read chunk %d: %w", i, err)
		}
		sealed := aead.Seal(nil, chunkNonce(prefix, uint32(i)), buf[:plainLen], chunkAAD(uint32(i)))
		if _, err := dst.Write(sealed); err != nil {
			return nil, fmt.Errorf("write chunk %d: %w", i, err)
		}
	}
	return h, nil
}

// Decrypt reads a container from src and writes the plaintext to dst. Any
// chunk failing authentication aborts the whole decode with
// ErrDecryptionFailed; plaintext already written to dst before the failing
// chunk is the caller's concern (DecryptFile commits atomically).
func Decrypt(dst io.Writer, src io.Reader, passphrase string) (*SecretHeader, error) {
	h, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}
	salt, err := h.salt()
	if err != nil {
		return nil, err
	}
	prefix, err := h.noncePrefix()
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase, salt, h.Info)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, h.ChunkSize+tagSize)
	for i := 0; i < h.ChunkCount; i++ {
		sealedLen := h.chunkPlaintextLen(i) + tagSize
		if _, err := io.ReadFull(src, buf[:sealedLen]); err != nil {
			return nil, fmt.Errorf("read chunk %d: %w", i, err)
		}
		plain, err := aead.Open(nil, chunkNonce(prefix, uint32(i)), buf[:sealedLen], chunkAAD(uint32(i)))
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d", ErrDecryptionFailed, i)
		}
		if _, err := dst.Write(plain); err != nil {
			return nil, fmt.Errorf("write chunk %d: %w", i, err)
		}
	}
	return h, nil
}

// EncryptFile seals srcPath into a container at dstPath.
func EncryptFile(srcPath, dstPath, passphrase string, chunkSize int) (*SecretHeader, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, err
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, err
	}

	h, err := Encrypt(dst, src, info.Size(), passphrase, chunkSize)
	if err != nil {
		dst.Close()
		os.Remove(dstPath)
		return nil, err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return nil, err
	}
	return h, nil
}

// DecryptFile opens the container at srcPath and writes the plaintext to
// dstPath. The plaintext goes to a temp file first and is renamed into place
// only after every chunk authenticates, so a tampered container never leaves
// a truncated file behind.
func DecryptFile(srcPath, dstPath, passphrase string) (*SecretHeader, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".hcss-open-*")
	if err != nil {
		return nil, err
	}

	h, err := Decrypt(tmp, src, passphrase)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := os.Rename(tmp.Name(), dstPath); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	return h, nil
}
