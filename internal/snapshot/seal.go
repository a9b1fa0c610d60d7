package snapshot

import (
	"fmt"
	"io"

	"filippo.io/age"
)

// Sealer encrypts snapshots to a passphrase with age's scrypt recipient.
type Sealer struct {
	passphrase string

	// WorkFactor overrides the scrypt work factor (log2 of N) when non-zero.
	WorkFactor int
}

func NewSealer(passphrase string) *Sealer {
	return &Sealer{passphrase: passphrase}
}

// Seal encrypts r into w.
func (s *Sealer) Seal(w io.Writer, r io.Reader) error {
	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if s.WorkFactor > 0 {
		recipient.SetWorkFactor(s.WorkFactor)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Open decrypts r into w.
func (s *Sealer) Open(w io.Writer, r io.Reader) error {
	identity, err := age.NewScryptIdentity(s.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}
	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("reading decrypted snapshot: %w", err)
	}
	return nil
}
