package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

// Key is a single ed25519 signing key with its key identifier.
type Key struct {
	ID      string
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// Keyring holds exactly three key slots:
//
//   - current: signs all newly issued tokens
//   - next: pre-staged replacement, published but not signing yet
//   - previous: the outgoing key, accepted for verification only until its
//     grace window elapses
//
// Promote rotates next→current and current→previous in one step, so the
// verification lookup stays O(1) and the slot invariant cannot be violated
// by partial updates.
type Keyring struct {
	mu sync.RWMutex

	current  Key
	next     Key
	previous *Key

	graceWindow   time.Duration
	previousUntil time.Time

	now func() time.Time
}

// NewKeyring generates fresh current and next keys. graceWindow bounds how
// long the previous key verifies after a promotion.
func NewKeyring(graceWindow time.Duration) (*Keyring, error) {
	if graceWindow <= 0 {
		return nil, errors.New("key grace window must be > 0")
	}

	current, err := generateKey()
	if err != nil {
		return nil, err
	}
	next, err := generateKey()
	if err != nil {
		return nil, err
	}

	return &Keyring{
		current:     current,
		next:        next,
		graceWindow: graceWindow,
		now:         time.Now,
	}, nil
}

// NewKeyringFromKeys builds a Keyring around externally provided key
// material, e.g. keys loaded from a secrets manager at startup.
func NewKeyringFromKeys(current, next Key, graceWindow time.Duration) (*Keyring, error) {
	if graceWindow <= 0 {
		return nil, errors.New("key grace window must be > 0")
	}
	for _, k := range []Key{current, next} {
		if k.ID == "" || len(k.Private) != ed25519.PrivateKeySize || len(k.Public) != ed25519.PublicKeySize {
			return nil, errors.New("invalid ed25519 key material")
		}
	}
	return &Keyring{
		current:     current,
		next:        next,
		graceWindow: graceWindow,
		now:         time.Now,
	}, nil
}

// SigningKey returns the current key used for new signatures.
func (k *Keyring) SigningKey() Key {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current
}

// VerificationKey resolves kid to a public key. The next slot is trusted
// (it is our own pre-staged material); the previous slot only resolves
// while its grace window is open. Any other kid is unknown and must force
// re-authentication.
func (k *Keyring) VerificationKey(kid string) (ed25519.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	switch kid {
	case k.current.ID:
		return k.current.Public, true
	case k.next.ID:
		return k.next.Public, true
	}
	if k.previous != nil && kid == k.previous.ID && k.now().Before(k.previousUntil) {
		return k.previous.Public, true
	}
	return nil, false
}

// Promote rotates the slots: next becomes current, current becomes previous
// (starting its grace window), the old previous is discarded, and a fresh
// next is generated. Tokens signed under the outgoing current key keep
// verifying until the grace window elapses.
func (k *Keyring) Promote() error {
	fresh, err := generateKey()
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	outgoing := k.current
	k.previous = &outgoing
	k.previousUntil = k.now().Add(k.graceWindow)
	k.current = k.next
	k.next = fresh
	return nil
}

// KeyIDs returns the identifiers of the three slots for introspection;
// previous is empty when no promotion has happened or the grace window has
// closed.
func (k *Keyring) KeyIDs() (current, next, previous string) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	current = k.current.ID
	next = k.next.ID
	if k.previous != nil && k.now().Before(k.previousUntil) {
		previous = k.previous.ID
	}
	return current, next, previous
}

func generateKey() (Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Key{}, err
	}

	var kid [9]byte
	if _, err := rand.Read(kid[:]); err != nil {
		return Key{}, err
	}

	return Key{
		ID:      base64.RawURLEncoding.EncodeToString(kid[:]),
		Private: priv,
		Public:  pub,
	}, nil
}
