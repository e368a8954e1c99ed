// Package coupon is a sample Executor module adapted from
// original_source/score/sample/score_coupon.py: a tiny coupon-issuance
// score exercising create/buy/use/send/get_coupon_info over the
// executor.Registry dispatch table.
package coupon

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tolelom/loopcore/executor"
)

// Status mirrors the Python original's CouponStatus enum.
type Status string

const (
	StatusCreated Status = "created"
	StatusSold    Status = "sold"
	StatusUsed    Status = "used"
)

// Coupon is one issued coupon.
type Coupon struct {
	Code      string    `json:"coupon_code"`
	Owner     string    `json:"owner,omitempty"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotOwner is returned when a caller attempts to use or send a coupon
// it does not own. The Python original left a bare `result` variable
// unreferenced on this path (score_coupon.py's `use`); this module
// always returns an explicit error instead (SPEC_FULL.md §11).
var ErrNotOwner = errors.New("coupon: caller does not own this coupon")

// ErrNotFound is returned when a coupon code does not exist.
var ErrNotFound = errors.New("coupon: no such coupon")

// ErrAlreadySold is returned when buying a coupon that isn't in the
// created state.
var ErrAlreadySold = errors.New("coupon: not available for purchase")

// Store holds every coupon this score has ever issued.
type Store struct {
	mu      sync.Mutex
	coupons map[string]*Coupon
}

// NewStore creates an empty coupon store.
func NewStore() *Store {
	return &Store{coupons: make(map[string]*Coupon)}
}

// Register installs this module's methods into reg under the method
// names the Python original used: create, buy, use, send,
// get_coupon_info.
func (s *Store) Register(reg *executor.Registry) {
	reg.Register("create", s.handleCreate)
	reg.Register("buy", s.handleBuy)
	reg.Register("use", s.handleUse)
	reg.Register("send", s.handleSend)
	reg.Register("get_coupon_info", s.handleGetCouponInfo)
}

type createParams struct {
	Owner string `json:"owner"`
}

func (s *Store) handleCreate(_ *executor.Context, params json.RawMessage) (json.RawMessage, error) {
	var p createParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("create: decode params: %w", err)
	}
	c := &Coupon{
		Code:      uuid.New().String(),
		Status:    StatusCreated,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}
	s.mu.Lock()
	s.coupons[c.Code] = c
	s.mu.Unlock()
	return json.Marshal(c)
}

type buyParams struct {
	CouponCode string `json:"coupon_code"`
	Buyer      string `json:"buyer"`
}

func (s *Store) handleBuy(_ *executor.Context, params json.RawMessage) (json.RawMessage, error) {
	var p buyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("buy: decode params: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[p.CouponCode]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != StatusCreated {
		return nil, ErrAlreadySold
	}
	c.Status = StatusSold
	c.Owner = p.Buyer
	return json.Marshal(c)
}

type useParams struct {
	CouponCode string `json:"coupon_code"`
	Owner      string `json:"owner"`
}

func (s *Store) handleUse(_ *executor.Context, params json.RawMessage) (json.RawMessage, error) {
	var p useParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("use: decode params: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[p.CouponCode]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Owner != p.Owner {
		return nil, ErrNotOwner
	}
	if c.Status != StatusSold {
		return nil, fmt.Errorf("coupon: not in a usable state (%s)", c.Status)
	}
	c.Status = StatusUsed
	return json.Marshal(c)
}

type sendParams struct {
	CouponCode string `json:"coupon_code"`
	From       string `json:"from"`
	To         string `json:"to"`
}

func (s *Store) handleSend(_ *executor.Context, params json.RawMessage) (json.RawMessage, error) {
	var p sendParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("send: decode params: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[p.CouponCode]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Owner != p.From {
		return nil, ErrNotOwner
	}
	c.Owner = p.To
	return json.Marshal(c)
}

type couponInfoParams struct {
	CouponCode string `json:"coupon_code"`
}

func (s *Store) handleGetCouponInfo(_ *executor.Context, params json.RawMessage) (json.RawMessage, error) {
	var p couponInfoParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("get_coupon_info: decode params: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[p.CouponCode]
	if !ok {
		return nil, ErrNotFound
	}
	return json.Marshal(c)
}
