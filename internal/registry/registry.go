package registry

import (
	"fmt"

	"github.com/google/uuid"
)

// Token describes a registered token: its decimals, oracle feed binding and
// the validation bounds the oracle store enforces for its reports.
type Token struct {
	Symbol             string
	Decimals           uint8
	FeedID             string
	ExpectedProvider   string
	HeartbeatSeconds   int64
	MaxDeviationFactor int64 // ppm ratio bound vs reference price; 0 = no band
	AllowAdjustment    bool  // clamp into the band instead of rejecting
	Enabled            bool
}

// TokenRegistry is the read-only collaborator resolving token metadata.
type TokenRegistry interface {
	Token(symbol string) (*Token, bool)
	IsEnabled(symbol string) bool
}

var defaultTokens = map[string]*Token{
	"USDC": {Symbol: "USDC", Decimals: 6, FeedID: "feed:usdc", ExpectedProvider: "chainlink", HeartbeatSeconds: 86_400, MaxDeviationFactor: 1_010_000, AllowAdjustment: true, Enabled: true},
	"USDT": {Symbol: "USDT", Decimals: 6, FeedID: "feed:usdt", ExpectedProvider: "chainlink", HeartbeatSeconds: 86_400, MaxDeviationFactor: 1_010_000, AllowAdjustment: true, Enabled: true},
	"WETH": {Symbol: "WETH", Decimals: 18, FeedID: "feed:weth", ExpectedProvider: "chainlink", HeartbeatSeconds: 3_600, MaxDeviationFactor: 1_100_000, AllowAdjustment: false, Enabled: true},
	"WBTC": {Symbol: "WBTC", Decimals: 8, FeedID: "feed:wbtc", ExpectedProvider: "chainlink", HeartbeatSeconds: 3_600, MaxDeviationFactor: 1_100_000, AllowAdjustment: false, Enabled: true},
	"SOL":  {Symbol: "SOL", Decimals: 9, FeedID: "feed:sol", ExpectedProvider: "pyth", HeartbeatSeconds: 300, MaxDeviationFactor: 1_150_000, AllowAdjustment: false, Enabled: true},
}

// InMemoryRegistry is the default TokenRegistry backed by a map.
// Not thread-safe — only accessed from the single-threaded settlement core.
type InMemoryRegistry struct {
	tokens map[string]*Token
}

func NewInMemoryRegistry() *InMemoryRegistry {
	tokens := make(map[string]*Token, len(defaultTokens))
	for k, v := range defaultTokens {
		tokens[k] = v
	}
	return &InMemoryRegistry{tokens: tokens}
}

// Register adds or replaces a token entry.
func (r *InMemoryRegistry) Register(token *Token) error {
	if token.Symbol == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if token.HeartbeatSeconds <= 0 {
		return fmt.Errorf("token %s: heartbeat must be > 0, got %d", token.Symbol, token.HeartbeatSeconds)
	}
	r.tokens[token.Symbol] = token
	return nil
}

func (r *InMemoryRegistry) Token(symbol string) (*Token, bool) {
	t, ok := r.tokens[symbol]
	return t, ok
}

func (r *InMemoryRegistry) IsEnabled(symbol string) bool {
	t, ok := r.tokens[symbol]
	return ok && t.Enabled
}

// Role names checked before privileged commands.
const (
	RoleOrderKeeper  = "ORDER_KEEPER"
	RoleMarketKeeper = "MARKET_KEEPER"
)

// Roles is the authorization collaborator.
type Roles interface {
	HasRole(owner uuid.UUID, role string) bool
	IsAdmin(owner uuid.UUID) bool
}

// StaticRoles is a map-backed Roles implementation.
// Not thread-safe — only accessed from the single-threaded settlement core.
type StaticRoles struct {
	admins map[uuid.UUID]bool
	roles  map[uuid.UUID]map[string]bool
}

func NewStaticRoles() *StaticRoles {
	return &StaticRoles{
		admins: make(map[uuid.UUID]bool),
		roles:  make(map[uuid.UUID]map[string]bool),
	}
}

func (s *StaticRoles) Grant(owner uuid.UUID, role string) {
	if s.roles[owner] == nil {
		s.roles[owner] = make(map[string]bool)
	}
	s.roles[owner][role] = true
}

func (s *StaticRoles) GrantAdmin(owner uuid.UUID) {
	s.admins[owner] = true
}

func (s *StaticRoles) HasRole(owner uuid.UUID, role string) bool {
	if s.admins[owner] {
		return true
	}
	return s.roles[owner][role]
}

func (s *StaticRoles) IsAdmin(owner uuid.UUID) bool {
	return s.admins[owner]
}
