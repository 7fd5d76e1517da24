package server

import (
	"crypto/rand"
	"io"

	"sechat/models"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// IdentityStore owns the durable record behind every identity code, live or
// historical. Methods are not goroutine-safe on their own; the server
// serializes access.
type IdentityStore struct {
	records map[string]*models.Identity
}

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		records: make(map[string]*models.Identity),
	}
}

// Allocate выдаёт новый код, свободный среди всех известных кодов, и сразу
// создаёт для него запись.
func (st *IdentityStore) Allocate() string {
	for {
		code := generateCode()
		if _, exists := st.records[code]; exists {
			continue
		}
		st.records[code] = &models.Identity{
			Code:     code,
			LastSeen: nowUnix(),
		}
		return code
	}
}

func generateCode() string {
	return generateCodeFrom(rand.Reader)
}

// generateCodeFrom отбрасывает байты от наибольшего кратного размеру
// алфавита и выше: 256 % 36 != 0, поэтому прямое взятие остатка смещало
// бы распределение к началу алфавита.
func generateCodeFrom(r io.Reader) string {
	limit := 256 - 256%len(codeAlphabet)
	code := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength)
	for len(code) < codeLength {
		n, _ := io.ReadFull(r, buf)
		for _, b := range buf[:n] {
			if int(b) >= limit {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == codeLength {
				break
			}
		}
	}
	return string(code)
}

func (st *IdentityStore) Get(code string) (*models.Identity, bool) {
	identity, ok := st.records[code]
	return identity, ok
}

func (st *IdentityStore) Exists(code string) bool {
	_, ok := st.records[code]
	return ok
}

// SetPublicKey stores the opaque key and marks public_key_loaded. The key
// contents are never inspected.
func (st *IdentityStore) SetPublicKey(code, key string) (models.KeyStatus, error) {
	if key == "" {
		return models.KeyStatus{}, invalidInput("Public key is required")
	}
	identity, ok := st.records[code]
	if !ok {
		return models.KeyStatus{}, notFound("User not found")
	}
	identity.PublicKey = key
	identity.Status.PublicKeyLoaded = true
	return identity.Status, nil
}

// SetKeyStatus обновляет private_key_loaded всегда, public_key_loaded только
// в сторону true: временный сброс при переподключении не стирает знание о
// ранее опубликованном ключе.
func (st *IdentityStore) SetKeyStatus(code string, privateLoaded, publicLoaded bool) (models.KeyStatus, error) {
	identity, ok := st.records[code]
	if !ok {
		return models.KeyStatus{}, notFound("User not found")
	}
	identity.Status.PrivateKeyLoaded = privateLoaded
	if publicLoaded {
		identity.Status.PublicKeyLoaded = true
	}
	return identity.Status, nil
}

// KeyStatus returns the zero status for unknown codes.
func (st *IdentityStore) KeyStatus(code string) models.KeyStatus {
	if identity, ok := st.records[code]; ok {
		return identity.Status
	}
	return models.KeyStatus{}
}

func (st *IdentityStore) Touch(code string) {
	if identity, ok := st.records[code]; ok {
		identity.LastSeen = nowUnix()
	}
}

// Remove discards a record. Used for transient codes only; persistent codes
// survive disconnects.
func (st *IdentityStore) Remove(code string) {
	delete(st.records, code)
}

// Rename переносит запись на новый код. Вызывается только при адопции.
func (st *IdentityStore) Rename(oldCode, newCode string) {
	identity, ok := st.records[oldCode]
	if !ok {
		return
	}
	delete(st.records, oldCode)
	identity.Code = newCode
	st.records[newCode] = identity
}

// Ensure creates an empty record for a code known only through friend
// edges, so every edge endpoint resolves.
func (st *IdentityStore) Ensure(code string) {
	if _, ok := st.records[code]; !ok {
		st.records[code] = &models.Identity{Code: code}
	}
}

// Restore populates records from a snapshot's public keys.
func (st *IdentityStore) Restore(publicKeys map[string]string) {
	now := nowUnix()
	for code, key := range publicKeys {
		st.records[code] = &models.Identity{
			Code:      code,
			PublicKey: key,
			Status:    models.KeyStatus{PublicKeyLoaded: key != ""},
			LastSeen:  now,
		}
	}
}

// PublicKeys returns the persistable key map, non-empty keys only.
func (st *IdentityStore) PublicKeys() map[string]string {
	keys := make(map[string]string)
	for code, identity := range st.records {
		if identity.PublicKey != "" {
			keys[code] = identity.PublicKey
		}
	}
	return keys
}

func (st *IdentityStore) Count() int {
	return len(st.records)
}
