package services

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/chain"
	"github.com/multisig-custody/backend/internal/events"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/multisig-custody/backend/internal/repositories"
	"go.uber.org/zap"
)

type scriptedConnector struct {
	mu      sync.Mutex
	hash    string
	err     error
	calls   int
	last    *models.SignedTransaction
	release chan struct{}
	// during runs inside Broadcast, after the transaction is submitted.
	during func()
}

func (c *scriptedConnector) Broadcast(ctx context.Context, tx *models.SignedTransaction) (string, error) {
	if c.release != nil {
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = tx
	if c.during != nil {
		c.during()
	}
	return c.hash, c.err
}

func (c *scriptedConnector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	return errors.New("redis down")
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store       *repositories.MemoryStore
	bus         *events.MemoryBus
	registry    *WalletRegistry
	hardware    *repositories.MemoryHardware
	coordinator *ApprovalCoordinator
	connector   *scriptedConnector
	clock       *testClock
	owner       uuid.UUID
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		Enabled:            true,
		SupportedChains:    map[string]bool{"ethereum": true, "ton": true, "bitcoin": true},
		MaxPendingRequests: 3,
		ApprovalTTL:        time.Hour,
		MaxSigners:         15,
		DefaultTenantID:    "default",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, testEngineConfig(), nil)
}

func newFixtureWith(t *testing.T, cfg EngineConfig, publisher events.Publisher) *fixture {
	t.Helper()

	store := repositories.NewMemoryStore()
	bus := events.NewMemoryBus()
	if publisher == nil {
		publisher = bus
	}
	log := zap.NewNop()

	connector := &scriptedConnector{hash: "0xabc123"}
	connectors := chain.NewRegistry()
	connectors.Register("ethereum", connector)
	connectors.Register("ton", connector)
	connectors.Register("bitcoin", connector)

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	hardware := repositories.NewMemoryHardware()
	registry := NewWalletRegistry(store, hardware, publisher, cfg, log)
	registry.now = clock.Now
	gateway := NewBroadcastGateway(connectors, 5*time.Second, log)
	coordinator := NewApprovalCoordinator(store, registry, gateway, publisher, cfg, log)
	coordinator.now = clock.Now

	return &fixture{
		store:       store,
		bus:         bus,
		registry:    registry,
		hardware:    hardware,
		coordinator: coordinator,
		connector:   connector,
		clock:       clock,
		owner:       uuid.New(),
	}
}

type testSigner struct {
	userID uuid.UUID
	pub    string
	priv   ed25519.PrivateKey
	signer *models.MultiSigWalletSigner
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &testSigner{userID: uuid.New(), pub: hex.EncodeToString(pub), priv: priv}
}

func (s *testSigner) sign(t *testing.T, req *models.MultiSigApprovalRequest) string {
	t.Helper()
	digest, err := hex.DecodeString(req.RawDataToSign)
	if err != nil {
		t.Fatal(err)
	}
	return hex.EncodeToString(ed25519.Sign(s.priv, digest))
}

func (f *fixture) createWallet(t *testing.T, required, total int) *models.MultiSigWallet {
	t.Helper()
	w, err := f.registry.CreateWallet(context.Background(), f.owner, WalletConfig{
		Name:               "treasury",
		Chain:              "ethereum",
		RequiredSignatures: required,
		TotalSigners:       total,
	}, nil)
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	return w
}

func (f *fixture) enroll(t *testing.T, walletID uuid.UUID) *testSigner {
	t.Helper()
	s := newTestSigner(t)
	signer, err := f.registry.AddSigner(context.Background(), walletID, f.owner, AddSignerInput{
		SignerType: models.SignerTypeInternal,
		PublicKey:  s.pub,
		UserID:     &s.userID,
	})
	if err != nil {
		t.Fatalf("AddSigner: %v", err)
	}
	s.signer = signer
	return s
}

// activeWallet creates a wallet and enrolls total signers.
func (f *fixture) activeWallet(t *testing.T, required, total int) (*models.MultiSigWallet, []*testSigner) {
	t.Helper()
	w := f.createWallet(t, required, total)
	signers := make([]*testSigner, 0, total)
	for i := 0; i < total; i++ {
		signers = append(signers, f.enroll(t, w.ID))
	}
	w, err := f.registry.GetWallet(context.Background(), w.ID)
	if err != nil {
		t.Fatal(err)
	}
	return w, signers
}

func (f *fixture) createRequest(t *testing.T, walletID, initiator uuid.UUID) *models.MultiSigApprovalRequest {
	t.Helper()
	req, err := f.coordinator.CreateApprovalRequest(context.Background(), walletID, initiator, CreateRequestInput{
		TransactionData: map[string]any{"to": "0xdead", "value": "1000"},
	})
	if err != nil {
		t.Fatalf("CreateApprovalRequest: %v", err)
	}
	return req
}

func (f *fixture) approve(t *testing.T, req *models.MultiSigApprovalRequest, s *testSigner) {
	t.Helper()
	if _, err := f.coordinator.SubmitSignature(context.Background(), req.ID, s.userID, s.sign(t, req), s.pub); err != nil {
		t.Fatalf("SubmitSignature: %v", err)
	}
}

func (f *fixture) request(t *testing.T, id uuid.UUID) *models.MultiSigApprovalRequest {
	t.Helper()
	req, err := f.store.GetRequest(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func expectCode(t *testing.T, err error, want *Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s error, got %v", want.Code, err)
	}
}
