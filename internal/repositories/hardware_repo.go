package repositories

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/multisig-custody/backend/internal/models"
)

// HardwareRepo reads device associations enrolled by the device registry.
type HardwareRepo struct {
	pool *pgxpool.Pool
}

func NewHardwareRepo(pool *pgxpool.Pool) *HardwareRepo {
	return &HardwareRepo{pool: pool}
}

// GetHardwareAssociation returns ErrNotFound for unknown and revoked devices.
func (r *HardwareRepo) GetHardwareAssociation(ctx context.Context, id uuid.UUID) (*models.HardwareAssociation, error) {
	var hw models.HardwareAssociation
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, device_type, chain, public_key
		FROM hardware_associations
		WHERE id = $1 AND revoked_at IS NULL
	`, id).Scan(&hw.ID, &hw.UserID, &hw.DeviceType, &hw.Chain, &hw.PublicKey)
	if err != nil {
		return nil, notFound(err)
	}
	return &hw, nil
}

// MemoryHardware is the in-process device registry used by tests and by the
// api when POSTGRES_DSN=memory.
type MemoryHardware struct {
	mu      sync.RWMutex
	devices map[uuid.UUID]models.HardwareAssociation
}

func NewMemoryHardware() *MemoryHardware {
	return &MemoryHardware{devices: make(map[uuid.UUID]models.HardwareAssociation)}
}

// Enroll stores hw, assigning an id when it has none.
func (m *MemoryHardware) Enroll(hw models.HardwareAssociation) models.HardwareAssociation {
	if hw.ID == uuid.Nil {
		hw.ID = uuid.New()
	}
	m.mu.Lock()
	m.devices[hw.ID] = hw
	m.mu.Unlock()
	return hw
}

func (m *MemoryHardware) Revoke(id uuid.UUID) {
	m.mu.Lock()
	delete(m.devices, id)
	m.mu.Unlock()
}

func (m *MemoryHardware) GetHardwareAssociation(ctx context.Context, id uuid.UUID) (*models.HardwareAssociation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hw, ok := m.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &hw, nil
}
