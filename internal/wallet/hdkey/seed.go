package hdkey

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

// SeedManager holds the root seed in memory with thread-safe access. The
// seed never leaves the process; encryption at rest belongs to the platform
// key storage, not here.
type SeedManager struct {
	mu          sync.RWMutex
	seed        []byte
	initialized bool
}

func NewSeedManager() *SeedManager {
	return &SeedManager{}
}

// Generate creates a fresh mnemonic and initializes the manager with it.
// The mnemonic is returned once for the backup flow and not retained.
func (m *SeedManager) Generate(password string) (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate entropy")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate mnemonic")
	}
	if err := m.Initialize(mnemonic, password); err != nil {
		return "", err
	}
	return mnemonic, nil
}

// Initialize derives the root seed from a mnemonic and password.
func (m *SeedManager) Initialize(mnemonic, password string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return errors.New("invalid mnemonic")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seed = bip39.NewSeed(mnemonic, password)
	m.initialized = true
	return nil
}

// Seed returns a copy of the seed, or nil when not initialized.
func (m *SeedManager) Seed() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized || m.seed == nil {
		return nil
	}
	seedCopy := make([]byte, len(m.seed))
	copy(seedCopy, m.seed)
	return seedCopy
}

func (m *SeedManager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Clear zeroes the seed in memory.
func (m *SeedManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.seed {
		m.seed[i] = 0
	}
	m.seed = nil
	m.initialized = false
}
