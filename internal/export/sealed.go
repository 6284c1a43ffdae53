package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/marcus/sprout/internal/crypto"
)

// ErrSealed is returned by Read for a passphrase-sealed document.
var ErrSealed = errors.New("export is sealed with a passphrase")

const kdfArgon2id = "argon2id"

// sealedFile wraps an encrypted document. Data is the AES-GCM sealed
// output of Write.
type sealedFile struct {
	Sealed int           `json:"sealed"`
	KDF    string        `json:"kdf"`
	Params crypto.Params `json:"params"`
	Salt   []byte        `json:"salt"`
	Data   []byte        `json:"data"`
}

// WriteSealed writes doc encrypted under passphrase.
func WriteSealed(w io.Writer, doc *Document, passphrase string, params crypto.Params) error {
	var plain bytes.Buffer
	if err := Write(&plain, doc); err != nil {
		return err
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	key, err := crypto.DeriveKey(passphrase, salt, params)
	if err != nil {
		return fmt.Errorf("seal export: %w", err)
	}
	data, err := crypto.Encrypt(key, plain.Bytes())
	if err != nil {
		return fmt.Errorf("seal export: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sealedFile{Sealed: Version, KDF: kdfArgon2id, Params: params, Salt: salt, Data: data})
}

// ReadAny reads a plain or sealed document. passphrase is only used for
// sealed input; sealed input without one returns ErrSealed.
func ReadAny(r io.Reader, passphrase string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}

	var head struct {
		Sealed *int `json:"sealed"`
	}
	if json.Unmarshal(data, &head) != nil || head.Sealed == nil {
		return Read(bytes.NewReader(data))
	}
	if passphrase == "" {
		return nil, ErrSealed
	}

	var sf sealedFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if sf.Sealed > Version {
		return nil, fmt.Errorf("%w: sealed %d", ErrUnsupportedVersion, sf.Sealed)
	}
	if sf.KDF != kdfArgon2id {
		return nil, fmt.Errorf("%w: kdf %q", ErrUnsupportedVersion, sf.KDF)
	}
	if err := sf.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	key, err := crypto.DeriveKey(passphrase, sf.Salt, sf.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	plain, err := crypto.Decrypt(key, sf.Data)
	if err != nil {
		return nil, err
	}
	return Read(bytes.NewReader(plain))
}
