package payment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/google/uuid"
)

// OutcomeSource decides how a fake session ends.
type OutcomeSource interface {
	Outcome() domain.SessionStatus
}

// RandomOutcome pays 95% of sessions and lets the rest expire.
type RandomOutcome struct{}

func (RandomOutcome) Outcome() domain.SessionStatus {
	return calcOutcome(rand.IntN(100))
}

func calcOutcome(n int) domain.SessionStatus {
	if n < 95 {
		return domain.SessionStatus{ProviderStatus: domain.ProviderStatusComplete, Paid: true}
	}
	return domain.SessionStatus{ProviderStatus: domain.ProviderStatusExpired}
}

type fakeSession struct {
	polls   int
	outcome domain.SessionStatus
}

// FakeGateway stands in for the provider in local runs. Each session stays
// open for openPolls status queries and then settles on its outcome.
type FakeGateway struct {
	mu        sync.Mutex
	sessions  map[string]*fakeSession
	source    OutcomeSource
	openPolls int
	ttl       time.Duration
}

func NewFakeGateway(source OutcomeSource, openPolls int, ttl time.Duration) *FakeGateway {
	return &FakeGateway{
		sessions:  make(map[string]*fakeSession),
		source:    source,
		openPolls: openPolls,
		ttl:       ttl,
	}
}

func (g *FakeGateway) CreateSession(_ context.Context, req domain.CreateSessionRequest) (domain.CreatedSession, error) {
	if req.Amount <= 0 {
		return domain.CreatedSession{}, fmt.Errorf("%w: amount must be positive", domain.ErrGatewayRejected)
	}
	id := "cs_fake_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	g.mu.Lock()
	g.sessions[id] = &fakeSession{outcome: g.source.Outcome()}
	g.mu.Unlock()

	return domain.CreatedSession{
		SessionID:   id,
		CheckoutURL: strings.ReplaceAll(SuccessURL(req.ReturnURL), "{CHECKOUT_SESSION_ID}", id),
		ExpiresAt:   time.Now().Add(g.ttl).UTC(),
	}, nil
}

func (g *FakeGateway) GetSessionStatus(_ context.Context, sessionID string) (domain.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok {
		return domain.SessionStatus{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	s.polls++
	if s.polls <= g.openPolls {
		return domain.SessionStatus{ProviderStatus: domain.ProviderStatusOpen}, nil
	}
	return s.outcome, nil
}
