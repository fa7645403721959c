package oracle

import (
	"errors"
	"fmt"

	"PerpPools/internal/config"
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/registry"
)

var (
	ErrStalePrice      = errors.New("stale price")
	ErrPriceDeviation  = errors.New("price deviation too large")
	ErrFutureTimestamp = errors.New("price timestamp in the future")
	ErrPriceNotSet     = errors.New("price not set")
	ErrSlotBusy        = errors.New("oracle slot busy")
)

// PriceReport is a keeper-relayed price observation for one token.
type PriceReport struct {
	Token     string
	Price     int64 // price scale (USD per token)
	Provider  string
	Timestamp int64 // unix seconds
}

// Snapshot holds the validated prices for the duration of one settlement
// call. It is populated at the start of the call, consumed within it, and
// cleared before the slot is reused. Never persisted.
type Snapshot struct {
	slot   string
	prices map[string]PriceReport
}

// Slots manages independent oracle snapshot slots so unrelated settlements
// can proceed without contention. One active snapshot per slot.
// Not thread-safe — only accessed from the single-threaded settlement core.
type Slots struct {
	registry registry.TokenRegistry
	cfg      *config.Store
	active   map[string]*Snapshot

	// reference prices for deviation checks: last accepted price per token
	reference map[string]int64
}

func NewSlots(reg registry.TokenRegistry, cfg *config.Store) *Slots {
	return &Slots{
		registry:  reg,
		cfg:       cfg,
		active:    make(map[string]*Snapshot),
		reference: make(map[string]int64),
	}
}

// Acquire claims a slot and returns its empty snapshot.
func (s *Slots) Acquire(slot string) (*Snapshot, error) {
	if _, busy := s.active[slot]; busy {
		return nil, fmt.Errorf("%w: %s", ErrSlotBusy, slot)
	}
	snap := &Snapshot{
		slot:   slot,
		prices: make(map[string]PriceReport),
	}
	s.active[slot] = snap
	return snap, nil
}

// SetPrices validates each report against the token registry and stores the
// accepted (possibly clamped) prices into the snapshot.
func (s *Slots) SetPrices(snap *Snapshot, reports []PriceReport, now int64) error {
	maxAge := s.cfg.Int(config.KeyOracleMaxAgeSeconds)
	maxSkew := s.cfg.Int(config.KeyOracleMaxFutureSkew)
	fallbackBand := s.cfg.Int(config.KeyMaxPriceDeviation)

	for _, report := range reports {
		token, ok := s.registry.Token(report.Token)
		if !ok || !token.Enabled {
			return fmt.Errorf("token %s is not enabled for pricing", report.Token)
		}
		if report.Price <= 0 {
			return fmt.Errorf("token %s: non-positive price %d", report.Token, report.Price)
		}
		if report.Provider != "" && report.Provider != token.ExpectedProvider {
			return fmt.Errorf("token %s: unexpected provider %s (expected %s)",
				report.Token, report.Provider, token.ExpectedProvider)
		}

		if report.Timestamp > now+maxSkew {
			return fmt.Errorf("%w: token %s reported at %d, now %d (max skew %ds)",
				ErrFutureTimestamp, report.Token, report.Timestamp, now, maxSkew)
		}

		heartbeat := token.HeartbeatSeconds
		if heartbeat > maxAge {
			heartbeat = maxAge
		}
		if now-report.Timestamp > heartbeat {
			return fmt.Errorf("%w: token %s aged %ds (heartbeat %ds)",
				ErrStalePrice, report.Token, now-report.Timestamp, heartbeat)
		}

		price := report.Price
		if ref, hasRef := s.reference[report.Token]; hasRef {
			band := token.MaxDeviationFactor
			if band == 0 {
				band = fallbackBand
			}
			clamped, err := clampToBand(price, ref, band)
			if err != nil {
				return err
			}
			if clamped != price {
				if !token.AllowAdjustment {
					return fmt.Errorf("%w: token %s price %d outside band of reference %d",
						ErrPriceDeviation, report.Token, price, ref)
				}
				price = clamped
			}
		}

		accepted := report
		accepted.Price = price
		snap.prices[report.Token] = accepted
		s.reference[report.Token] = price
	}

	return nil
}

// Clear empties the snapshot and releases its slot. Idempotent.
func (s *Slots) Clear(snap *Snapshot) {
	if snap == nil {
		return
	}
	snap.prices = make(map[string]PriceReport)
	delete(s.active, snap.slot)
}

// Reference copies the last-accepted prices for persistence.
func (s *Slots) Reference() map[string]int64 {
	out := make(map[string]int64, len(s.reference))
	for k, v := range s.reference {
		out[k] = v
	}
	return out
}

// RestoreReference replaces the reference prices from a snapshot.
func (s *Slots) RestoreReference(prices map[string]int64) {
	s.reference = make(map[string]int64, len(prices))
	for k, v := range prices {
		s.reference[k] = v
	}
}

// clampToBand pulls price into [ref*scale/band, ref*band/scale].
func clampToBand(price, ref, band int64) (int64, error) {
	scale := fpmath.FactorConfig.Scale
	upper, err := fpmath.MulDiv(ref, band, scale)
	if err != nil {
		return 0, err
	}
	lower, err := fpmath.MulDiv(ref, scale, band)
	if err != nil {
		return 0, err
	}
	if price > upper {
		return upper, nil
	}
	if price < lower {
		return lower, nil
	}
	return price, nil
}

// Price returns the validated price for token in this snapshot.
func (snap *Snapshot) Price(token string) (int64, error) {
	report, ok := snap.prices[token]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPriceNotSet, token)
	}
	return report.Price, nil
}

// Has reports whether the snapshot covers token.
func (snap *Snapshot) Has(token string) bool {
	_, ok := snap.prices[token]
	return ok
}

// Empty reports whether the snapshot holds no prices.
func (snap *Snapshot) Empty() bool {
	return len(snap.prices) == 0
}

// Tokens returns the covered token symbols.
func (snap *Snapshot) Tokens() []string {
	out := make([]string, 0, len(snap.prices))
	for t := range snap.prices {
		out = append(out, t)
	}
	return out
}
