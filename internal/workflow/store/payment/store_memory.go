package payment

import (
	"context"
	"sync"
	"time"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
)

// MemoryStore keeps payments in memory for tests and memory-backed wiring.
// Append-only: superseded rows lose the current flag but stay listed.
type MemoryStore struct {
	mu       sync.RWMutex
	payments []*models.Payment
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Current {
		for _, existing := range s.payments {
			if existing.ApplicationID == p.ApplicationID && existing.Current {
				return sentinel.ErrConflict
			}
		}
	}
	cp := *p
	s.payments = append(s.payments, &cp)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, paymentID id.PaymentID) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.ID == paymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) Current(_ context.Context, appID id.ApplicationID) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.ApplicationID == appID && p.Current {
			cp := *p
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) GetByGatewayID(_ context.Context, mayaPaymentID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.MayaPaymentID == mayaPaymentID && mayaPaymentID != "" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) Supersede(_ context.Context, paymentID id.PaymentID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID == paymentID {
			p.Current = false
			p.UpdatedAt = now
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *MemoryStore) SetStatus(_ context.Context, paymentID id.PaymentID, status models.PaymentStatus, failureReason *string, paidAt *time.Time, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID == paymentID {
			p.Status = status
			if failureReason != nil {
				p.FailureReason = *failureReason
			}
			if paidAt != nil {
				t := *paidAt
				p.PaidAt = &t
			}
			p.UpdatedAt = now
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *MemoryStore) SetGatewayRefs(_ context.Context, paymentID id.PaymentID, mayaPaymentID, checkoutID, checkoutURL string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID == paymentID {
			p.MayaPaymentID = mayaPaymentID
			p.MayaCheckoutID = checkoutID
			p.CheckoutURL = checkoutURL
			p.UpdatedAt = now
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *MemoryStore) ListProcessingBefore(_ context.Context, cutoff time.Time) ([]*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Payment
	for _, p := range s.payments {
		if p.Status == models.PaymentProcessing && p.CreatedAt.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
