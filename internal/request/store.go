package request

import (
	"fmt"

	"github.com/google/uuid"
)

// Store indexes all pending requests. Nonces are assigned from a single
// monotonic counter shared across discriminants, persisted with snapshots so
// replay never reuses an address.
// Not thread-safe — only accessed from the single-threaded settlement core.
type Store struct {
	deposits    map[Key]*Deposit
	withdrawals map[Key]*Withdrawal
	orders      map[Key]*Order
	nextNonce   uint64
}

func NewStore() *Store {
	return &Store{
		deposits:    make(map[Key]*Deposit),
		withdrawals: make(map[Key]*Withdrawal),
		orders:      make(map[Key]*Order),
		nextNonce:   1,
	}
}

func (s *Store) nextKey(owner uuid.UUID, d Discriminant) Key {
	key := Key{Owner: owner, Discriminant: d, Nonce: s.nextNonce}
	s.nextNonce++
	return key
}

// PutDeposit assigns the deposit its key and indexes it.
func (s *Store) PutDeposit(owner uuid.UUID, d *Deposit) Key {
	d.Key = s.nextKey(owner, DiscriminantDeposit)
	s.deposits[d.Key] = d
	return d.Key
}

func (s *Store) PutWithdrawal(owner uuid.UUID, w *Withdrawal) Key {
	w.Key = s.nextKey(owner, DiscriminantWithdrawal)
	s.withdrawals[w.Key] = w
	return w.Key
}

func (s *Store) PutOrder(owner uuid.UUID, o *Order) Key {
	o.Key = s.nextKey(owner, DiscriminantOrder)
	s.orders[o.Key] = o
	return o.Key
}

// Deposit looks up a pending deposit. Executed or cancelled requests are
// gone from the index, so a second terminal attempt surfaces as not-found.
func (s *Store) Deposit(key Key) (*Deposit, error) {
	d, ok := s.deposits[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	return d, nil
}

func (s *Store) Withdrawal(key Key) (*Withdrawal, error) {
	w, ok := s.withdrawals[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	return w, nil
}

func (s *Store) Order(key Key) (*Order, error) {
	o, ok := s.orders[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	return o, nil
}

// Remove deletes a request on its terminal transition.
func (s *Store) Remove(key Key) {
	switch key.Discriminant {
	case DiscriminantDeposit:
		delete(s.deposits, key)
	case DiscriminantWithdrawal:
		delete(s.withdrawals, key)
	case DiscriminantOrder:
		delete(s.orders, key)
	}
}

// PendingCounts reports pending requests per discriminant for metrics.
func (s *Store) PendingCounts() (deposits, withdrawals, orders int) {
	return len(s.deposits), len(s.withdrawals), len(s.orders)
}

// Deposits returns all pending deposits (iteration order unspecified).
func (s *Store) Deposits() []*Deposit {
	out := make([]*Deposit, 0, len(s.deposits))
	for _, d := range s.deposits {
		out = append(out, d)
	}
	return out
}

func (s *Store) Withdrawals() []*Withdrawal {
	out := make([]*Withdrawal, 0, len(s.withdrawals))
	for _, w := range s.withdrawals {
		out = append(out, w)
	}
	return out
}

func (s *Store) Orders() []*Order {
	out := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

// RestoreDeposit re-indexes a deposit under its existing key (snapshot
// recovery; the nonce counter is restored separately).
func (s *Store) RestoreDeposit(d *Deposit) {
	s.deposits[d.Key] = d
}

func (s *Store) RestoreWithdrawal(w *Withdrawal) {
	s.withdrawals[w.Key] = w
}

func (s *Store) RestoreOrder(o *Order) {
	s.orders[o.Key] = o
}

// NextNonce exposes the counter for snapshots.
func (s *Store) NextNonce() uint64 { return s.nextNonce }

// SetNextNonce restores the counter from a snapshot.
func (s *Store) SetNextNonce(n uint64) { s.nextNonce = n }
