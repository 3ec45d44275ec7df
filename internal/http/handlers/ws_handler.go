package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/auth"
	"github.com/multisig-custody/backend/internal/config"
	"github.com/multisig-custody/backend/internal/events"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/multisig-custody/backend/internal/rbac"
	"go.uber.org/zap"
)

// WalletAccess reports the user's role on a wallet.
type WalletAccess interface {
	RoleOf(ctx context.Context, walletID, userID uuid.UUID) (string, *models.MultiSigWallet, error)
}

// accessTTL bounds how long a granted view is trusted without asking again.
const accessTTL = 30 * time.Second

type wsClient struct {
	conn    *websocket.Conn
	userID  uuid.UUID
	tenant  string
	wallets map[uuid.UUID]time.Time // view grants by expiry

	mu sync.Mutex // guards conn writes and wallets
}

func (c *wsClient) forget(walletID uuid.UUID) {
	c.mu.Lock()
	delete(c.wallets, walletID)
	c.mu.Unlock()
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub fans multi-sig notifications out to connected users. A user only
// receives events of their own tenant for wallets they own or sign for.
type WSHub struct {
	cfg        *config.Config
	subscriber events.Subscriber
	access     WalletAccess
	log        *zap.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID][]*wsClient
	now     func() time.Time
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, access WalletAccess, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:        cfg,
		subscriber: subscriber,
		access:     access,
		log:        log,
		clients:    make(map[uuid.UUID][]*wsClient),
		now:        time.Now,
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamMultiSig, func(event events.Event) {
		h.dispatch(ctx, event)
	})
}

func (h *WSHub) dispatch(ctx context.Context, event events.Event) {
	walletID, ok := eventWallet(event)
	if !ok {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0)
	for _, list := range h.clients {
		for _, cl := range list {
			if cl.tenant == event.TenantID {
				targets = append(targets, cl)
			}
		}
	}
	h.mu.RUnlock()

	if revokesAccess(event.Type) {
		for _, cl := range targets {
			cl.forget(walletID)
		}
	}
	for _, cl := range targets {
		if !h.canView(ctx, cl, walletID) {
			continue
		}
		if err := cl.write(data); err != nil {
			h.log.Debug("ws write failed", zap.String("user_id", cl.userID.String()), zap.Error(err))
		}
	}
}

// revokesAccess reports events after which a cached view grant may be stale.
func revokesAccess(eventType string) bool {
	return eventType == events.EventSignerRemoved || eventType == events.EventWalletStatusChanged
}

// canView caches positive answers for accessTTL; a denied wallet is asked
// again next time since the user may be enrolled later.
func (h *WSHub) canView(ctx context.Context, cl *wsClient, walletID uuid.UUID) bool {
	now := h.now()
	cl.mu.Lock()
	until, known := cl.wallets[walletID]
	cl.mu.Unlock()
	if known && now.Before(until) {
		return true
	}

	role, _, err := h.access.RoleOf(ctx, walletID, cl.userID)
	if err != nil || !rbac.HasPermission(role, rbac.PermViewWallet) {
		cl.forget(walletID)
		return false
	}
	cl.mu.Lock()
	cl.wallets[walletID] = now.Add(accessTTL)
	cl.mu.Unlock()
	return true
}

func eventWallet(event events.Event) (uuid.UUID, bool) {
	raw, ok := event.Payload["wallet_id"].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	tenant := claims.TenantID
	if tenant == "" {
		tenant = h.cfg.DefaultTenantID
	}
	cl := &wsClient{
		conn:    conn,
		userID:  claims.UserID,
		tenant:  tenant,
		wallets: make(map[uuid.UUID]time.Time),
	}
	h.register(cl)
	defer func() {
		h.unregister(cl)
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *WSHub) register(cl *wsClient) {
	h.mu.Lock()
	h.clients[cl.userID] = append(h.clients[cl.userID], cl)
	h.mu.Unlock()
}

func (h *WSHub) unregister(cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.clients[cl.userID]
	for i, c := range list {
		if c == cl {
			h.clients[cl.userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.clients[cl.userID]) == 0 {
		delete(h.clients, cl.userID)
	}
}
