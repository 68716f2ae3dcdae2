package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// ErrVerification indicates a downloaded file does not match its remote original.
var ErrVerification = errors.New("download verification failed")

const sniffLimit = 3072

func verifyArtifact(localPath string, expectedSize, written int64) error {
	if written != expectedSize {
		return fmt.Errorf("%w: wrote %d bytes, remote has %d", ErrVerification, written, expectedSize)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}
	if info.Size() != expectedSize {
		return fmt.Errorf("%w: local size %d, remote has %d", ErrVerification, info.Size(), expectedSize)
	}
	if expectedSize == 0 {
		return nil
	}

	head := make([]byte, sniffLimit)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}

	detected := mimetype.Detect(head[:n])
	for m := detected; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return nil
		}
	}
	return fmt.Errorf("%w: content is %s, not text", ErrVerification, detected.String())
}

// fileChecksum returns the hex SHA-256 of the file at path.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
