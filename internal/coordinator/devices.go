// Package coordinator fans a single goal across a fleet of devices,
// running one Agent Loop per device under a rollout strategy.
package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
	"github.com/google/uuid"
)

var (
	ErrDeviceNotFound       = errors.New("coordinator: device not found")
	ErrPairingTokenNotFound = errors.New("coordinator: pairing token not found")
	ErrPairingTokenExpired  = errors.New("coordinator: pairing token expired")
	ErrPairingTokenUsed     = errors.New("coordinator: pairing token already used")
)

const defaultPairingTokenTTL = 10 * time.Minute

// DeviceRegistry holds the fleet of devices the Coordinator can dispatch
// work to, plus the `devices add` pairing handshake's one-time tokens.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]agentmodel.Device
	tokens  map[string]*agentmodel.PairingToken
}

// NewDeviceRegistry returns an empty in-memory registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]agentmodel.Device),
		tokens:  make(map[string]*agentmodel.PairingToken),
	}
}

// Add registers a device directly (no pairing handshake), for
// statically-configured fleets.
func (r *DeviceRegistry) Add(d agentmodel.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID] = d
}

// Get returns the device with id, or ErrDeviceNotFound.
func (r *DeviceRegistry) Get(id string) (agentmodel.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return agentmodel.Device{}, ErrDeviceNotFound
	}
	return d, nil
}

// List returns every registered device, in no particular order.
func (r *DeviceRegistry) List() []agentmodel.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agentmodel.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Remove deregisters a device.
func (r *DeviceRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
}

// IssuePairingToken creates a one-time token for `devices add`, good for
// ttl (or defaultPairingTokenTTL if zero; a negative ttl is honored as-is,
// producing an already-expired token, for tests).
func (r *DeviceRegistry) IssuePairingToken(hint string, ttl time.Duration) (*agentmodel.PairingToken, error) {
	if ttl == 0 {
		ttl = defaultPairingTokenTTL
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate pairing token: %w", err)
	}

	now := time.Now()
	tok := &agentmodel.PairingToken{
		ID:         base64.URLEncoding.EncodeToString(raw),
		DeviceHint: hint,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[tok.ID] = tok
	return tok, nil
}

// CompletePairing redeems a pairing token and registers hostname as a
// new Device, assigning it a fresh ID.
func (r *DeviceRegistry) CompletePairing(ctx context.Context, tokenID, hostname string) (agentmodel.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[tokenID]
	if !ok {
		return agentmodel.Device{}, ErrPairingTokenNotFound
	}
	if tok.Used {
		return agentmodel.Device{}, ErrPairingTokenUsed
	}
	if time.Now().After(tok.ExpiresAt) {
		return agentmodel.Device{}, ErrPairingTokenExpired
	}

	tok.Used = true
	d := agentmodel.Device{ID: uuid.NewString(), Hostname: hostname}
	r.devices[d.ID] = d
	return d, nil
}
