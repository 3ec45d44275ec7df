package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/models"
)

// Compile-time check: *MemoryStore must satisfy Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory. A single mutex serializes
// all access; InTx holds it for the whole callback and restores a snapshot
// when the callback fails. Used by tests and by the api when POSTGRES_DSN=memory.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
}

type memData struct {
	wallets   map[uuid.UUID]models.MultiSigWallet
	signers   map[uuid.UUID]models.MultiSigWalletSigner
	requests  map[uuid.UUID]models.MultiSigApprovalRequest
	approvals map[uuid.UUID]models.MultiSigSignerApproval
	audit     []models.AuditLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memData{
			wallets:   make(map[uuid.UUID]models.MultiSigWallet),
			signers:   make(map[uuid.UUID]models.MultiSigWalletSigner),
			requests:  make(map[uuid.UUID]models.MultiSigApprovalRequest),
			approvals: make(map[uuid.UUID]models.MultiSigSignerApproval),
		},
	}
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &MemoryStore{mu: s.mu, data: s.data, inTx: true}
	if err := fn(tx); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

func (d *memData) clone() *memData {
	c := &memData{
		wallets:   make(map[uuid.UUID]models.MultiSigWallet, len(d.wallets)),
		signers:   make(map[uuid.UUID]models.MultiSigWalletSigner, len(d.signers)),
		requests:  make(map[uuid.UUID]models.MultiSigApprovalRequest, len(d.requests)),
		approvals: make(map[uuid.UUID]models.MultiSigSignerApproval, len(d.approvals)),
		audit:     append([]models.AuditLog(nil), d.audit...),
	}
	for k, v := range d.wallets {
		c.wallets[k] = v
	}
	for k, v := range d.signers {
		c.signers[k] = v
	}
	for k, v := range d.requests {
		c.requests[k] = v
	}
	for k, v := range d.approvals {
		c.approvals[k] = v
	}
	return c
}

// ---- Wallets ----

func (s *MemoryStore) CreateWallet(ctx context.Context, w *models.MultiSigWallet) error {
	defer s.lock()()
	now := time.Now()
	w.ID = uuid.New()
	w.Version = 1
	w.CreatedAt = now
	w.UpdatedAt = now
	w.Metadata = copyMap(w.Metadata)
	s.data.wallets[w.ID] = *w
	return nil
}

func (s *MemoryStore) GetWallet(ctx context.Context, id uuid.UUID) (*models.MultiSigWallet, error) {
	defer s.lock()()
	w, ok := s.data.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	w.Metadata = copyMap(w.Metadata)
	return &w, nil
}

func (s *MemoryStore) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*models.MultiSigWallet, error) {
	return s.GetWallet(ctx, id)
}

func (s *MemoryStore) UpdateWallet(ctx context.Context, w *models.MultiSigWallet) error {
	defer s.lock()()
	cur, ok := s.data.wallets[w.ID]
	if !ok || cur.Version != w.Version {
		return ErrConcurrentModification
	}
	if cur.Address != nil {
		w.Address = cur.Address
	}
	if cur.ActivatedAt != nil {
		w.ActivatedAt = cur.ActivatedAt
	}
	w.Version++
	w.UpdatedAt = time.Now()
	stored := *w
	stored.Metadata = copyMap(w.Metadata)
	s.data.wallets[w.ID] = stored
	return nil
}

func (s *MemoryStore) ListWallets(ctx context.Context, f WalletFilter) ([]models.MultiSigWallet, error) {
	defer s.lock()()
	var out []models.MultiSigWallet
	for _, w := range s.data.wallets {
		if f.OwnerUserID != nil && w.OwnerUserID != *f.OwnerUserID {
			continue
		}
		if f.SignerUserID != nil && !s.hasActiveSigner(w.ID, *f.SignerUserID) {
			continue
		}
		if f.Chain != nil && w.Chain != *f.Chain {
			continue
		}
		if f.Status != nil && w.Status != *f.Status {
			continue
		}
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (s *MemoryStore) hasActiveSigner(walletID, userID uuid.UUID) bool {
	for _, sg := range s.data.signers {
		if sg.WalletID == walletID && sg.IsActive && sg.UserID != nil && *sg.UserID == userID {
			return true
		}
	}
	return false
}

// ---- Signers ----

func (s *MemoryStore) CreateSigner(ctx context.Context, sg *models.MultiSigWalletSigner) error {
	defer s.lock()()
	sg.ID = uuid.New()
	sg.CreatedAt = time.Now()
	s.data.signers[sg.ID] = *sg
	return nil
}

func (s *MemoryStore) GetSigner(ctx context.Context, id uuid.UUID) (*models.MultiSigWalletSigner, error) {
	defer s.lock()()
	sg, ok := s.data.signers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sg, nil
}

func (s *MemoryStore) ListSigners(ctx context.Context, walletID uuid.UUID, activeOnly bool) ([]models.MultiSigWalletSigner, error) {
	defer s.lock()()
	var out []models.MultiSigWalletSigner
	for _, sg := range s.data.signers {
		if sg.WalletID != walletID || (activeOnly && !sg.IsActive) {
			continue
		}
		out = append(out, sg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryStore) NextSignerPosition(ctx context.Context, walletID uuid.UUID) (int, error) {
	defer s.lock()()
	last := 0
	for _, sg := range s.data.signers {
		if sg.WalletID == walletID && sg.Position > last {
			last = sg.Position
		}
	}
	return last + 1, nil
}

func (s *MemoryStore) DeactivateSigner(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer s.lock()()
	sg, ok := s.data.signers[id]
	if !ok || !sg.IsActive {
		return ErrConcurrentModification
	}
	sg.IsActive = false
	sg.DeactivatedAt = &at
	s.data.signers[id] = sg
	return nil
}

// ---- Approval requests ----

func (s *MemoryStore) CreateRequest(ctx context.Context, r *models.MultiSigApprovalRequest) error {
	defer s.lock()()
	r.ID = uuid.New()
	r.Version = 1
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = r.CreatedAt
	stored := *r
	stored.TransactionData = copyMap(r.TransactionData)
	stored.Metadata = copyMap(r.Metadata)
	s.data.requests[r.ID] = stored
	return nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id uuid.UUID) (*models.MultiSigApprovalRequest, error) {
	defer s.lock()()
	r, ok := s.data.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Metadata = copyMap(r.Metadata)
	return &r, nil
}

func (s *MemoryStore) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.MultiSigApprovalRequest, error) {
	return s.GetRequest(ctx, id)
}

func (s *MemoryStore) UpdateRequest(ctx context.Context, r *models.MultiSigApprovalRequest) error {
	defer s.lock()()
	cur, ok := s.data.requests[r.ID]
	if !ok || cur.Version != r.Version {
		return ErrConcurrentModification
	}
	r.Version++
	r.UpdatedAt = time.Now()
	stored := *r
	stored.Metadata = copyMap(r.Metadata)
	s.data.requests[r.ID] = stored
	return nil
}

func (s *MemoryStore) ListRequests(ctx context.Context, f RequestFilter) ([]models.MultiSigApprovalRequest, error) {
	defer s.lock()()
	var out []models.MultiSigApprovalRequest
	for _, r := range s.data.requests {
		if f.WalletID != nil && r.WalletID != *f.WalletID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.ExpiresBefore != nil && r.ExpiresAt.After(*f.ExpiresBefore) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (s *MemoryStore) CountLivePendingRequests(ctx context.Context, walletID uuid.UUID, now time.Time) (int, error) {
	defer s.lock()()
	n := 0
	for _, r := range s.data.requests {
		if r.WalletID == walletID && r.Status == models.RequestStatusPending && r.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

// ---- Signer approvals ----

func (s *MemoryStore) CreateApprovals(ctx context.Context, approvals []*models.MultiSigSignerApproval) error {
	defer s.lock()()
	now := time.Now()
	for _, a := range approvals {
		a.ID = uuid.New()
		a.CreatedAt = now
		s.data.approvals[a.ID] = *a
	}
	return nil
}

func (s *MemoryStore) ListApprovals(ctx context.Context, requestID uuid.UUID) ([]models.MultiSigSignerApproval, error) {
	defer s.lock()()
	var out []models.MultiSigSignerApproval
	for _, a := range s.data.approvals {
		if a.ApprovalRequestID == requestID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.data.signers[out[i].SignerID].Position < s.data.signers[out[j].SignerID].Position
	})
	return out, nil
}

func (s *MemoryStore) DecideApproval(ctx context.Context, a *models.MultiSigSignerApproval) error {
	defer s.lock()()
	cur, ok := s.data.approvals[a.ID]
	if !ok || cur.Decision != models.DecisionPending {
		return ErrConcurrentModification
	}
	s.data.approvals[a.ID] = *a
	return nil
}

// ---- Audit ----

func (s *MemoryStore) LogAudit(ctx context.Context, entry models.AuditLog) error {
	defer s.lock()()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	s.data.audit = append(s.data.audit, entry)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	defer s.lock()()
	var out []models.AuditLog
	for i := len(s.data.audit) - 1; i >= 0; i-- {
		l := s.data.audit[i]
		if l.EntityType == entityType && l.EntityID != nil && *l.EntityID == entityID {
			out = append(out, l)
		}
	}
	if limit <= 0 {
		limit = 50
	}
	return page(out, limit, offset), nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func page[T any](items []T, limit, offset int) []T {
	limit = normalizeLimit(limit)
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
