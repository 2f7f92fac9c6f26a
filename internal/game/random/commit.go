package random

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

const saltLen = 16

// EncodeWords is the canonical byte form hashed inside a commitment: each
// die contribution is one big-endian uint32.
func EncodeWords(words []uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

// Commitment is H(salt || words). The reveal check recomputes it.
func Commitment(salt []byte, words []uint32) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(EncodeWords(words))
	return h.Sum(nil)
}

// CombineWords XORs every participant's word per die, then reduces modulo
// max. Any one honest (uniform) participant makes the XOR uniform over the
// word space.
func CombineWords(parts [][]uint32, max, count int) ([]int, error) {
	if max <= 0 || count <= 0 {
		return nil, fmt.Errorf("combine: max=%d count=%d out of range", max, count)
	}
	out := make([]int, count)
	for i := 0; i < count; i++ {
		var x uint32
		for _, p := range parts {
			if len(p) != count {
				return nil, fmt.Errorf("combine: participant produced %d words, want %d", len(p), count)
			}
			x ^= p[i]
		}
		out[i] = int(x % uint32(max))
	}
	return out, nil
}

// DrawWords produces one cryptographically random contribution plus its
// salt. Used by every participant, hub included.
func DrawWords(count int) (salt []byte, words []uint32, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, 4*count)
	if _, err := rand.Read(buf); err != nil {
		return nil, nil, err
	}
	words = make([]uint32, count)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(buf[4*i:])
	}
	return salt, words, nil
}

// VaultID names a stored commitment.
type VaultID uint64

// Vault holds commitments between the commit and reveal phases of a roll.
type Vault struct {
	mu          sync.Mutex
	nextID      uint64
	commitments map[VaultID][]byte
	closed      bool
}

func NewVault() *Vault {
	return &Vault{commitments: map[VaultID][]byte{}}
}

func (v *Vault) AddCommitment(hash []byte) (VaultID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, fmt.Errorf("vault closed")
	}
	v.nextID++
	id := VaultID(v.nextID)
	v.commitments[id] = append([]byte(nil), hash...)
	return id, nil
}

// Verify checks a reveal against its stored commitment and releases it.
func (v *Vault) Verify(id VaultID, salt []byte, words []uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	want, ok := v.commitments[id]
	if !ok {
		return fmt.Errorf("vault: no commitment %d", id)
	}
	delete(v.commitments, id)
	if !bytes.Equal(want, Commitment(salt, words)) {
		return fmt.Errorf("vault: reveal does not match commitment %d", id)
	}
	return nil
}

func (v *Vault) Release(id VaultID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.commitments, id)
}

func (v *Vault) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.commitments)
}

func (v *Vault) ShutDown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.commitments = map[VaultID]([]byte){}
}

// Committer is one participant in a committed roll: commit first, reveal
// on request. Remote players implement this over the messenger fabric.
type Committer interface {
	CommitRandom(max, count int, annotation string) (commitment []byte, err error)
	RevealRandom() (salt []byte, words []uint32, err error)
}

// LocalCommitter is the hub's own contribution.
type LocalCommitter struct {
	mu    sync.Mutex
	salt  []byte
	words []uint32
}

func (l *LocalCommitter) CommitRandom(max, count int, annotation string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	salt, words, err := DrawWords(count)
	if err != nil {
		return nil, err
	}
	l.salt, l.words = salt, words
	return Commitment(salt, words), nil
}

func (l *LocalCommitter) RevealRandom() ([]byte, []uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.words == nil {
		return nil, nil, fmt.Errorf("reveal before commit")
	}
	salt, words := l.salt, l.words
	l.salt, l.words = nil, nil
	return salt, words, nil
}

// CommittedSource runs the commit-reveal protocol across its participants
// for every roll.
type CommittedSource struct {
	vault        *Vault
	participants func() []Committer
}

func NewCommittedSource(vault *Vault, participants func() []Committer) *CommittedSource {
	return &CommittedSource{vault: vault, participants: participants}
}

func (s *CommittedSource) Random(max, count int, annotation string) ([]int, error) {
	parts := s.participants()
	if len(parts) == 0 {
		return nil, fmt.Errorf("committed random: no participants")
	}

	ids := make([]VaultID, len(parts))
	for i, p := range parts {
		hash, err := p.CommitRandom(max, count, annotation)
		if err != nil {
			s.releaseAll(ids[:i])
			return nil, fmt.Errorf("commit from participant %d: %w", i, err)
		}
		id, err := s.vault.AddCommitment(hash)
		if err != nil {
			s.releaseAll(ids[:i])
			return nil, err
		}
		ids[i] = id
	}

	contributions := make([][]uint32, len(parts))
	for i, p := range parts {
		salt, words, err := p.RevealRandom()
		if err != nil {
			s.releaseAll(ids[i:])
			return nil, fmt.Errorf("reveal from participant %d: %w", i, err)
		}
		if err := s.vault.Verify(ids[i], salt, words); err != nil {
			s.releaseAll(ids[i+1:])
			return nil, err
		}
		contributions[i] = words
	}

	return CombineWords(contributions, max, count)
}

func (s *CommittedSource) releaseAll(ids []VaultID) {
	for _, id := range ids {
		if id != 0 {
			s.vault.Release(id)
		}
	}
}
