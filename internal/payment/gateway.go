package payment

import (
	"context"

	"github.com/afif1710/NexusMarket/internal/domain"
)

// Gateway is the provider-neutral contract for hosted checkout sessions.
//
// Implementations wrap network failures, timeouts, 5xx and rate-limit answers
// in domain.ErrGatewayTransport. An unknown session is domain.ErrSessionNotFound
// and any other refusal is domain.ErrGatewayRejected.
type Gateway interface {
	CreateSession(ctx context.Context, req domain.CreateSessionRequest) (domain.CreatedSession, error)
	GetSessionStatus(ctx context.Context, sessionID string) (domain.SessionStatus, error)
}

// SuccessURL and CancelURL build the redirect targets handed to the provider.
func SuccessURL(returnURL string) string {
	return trimSlash(returnURL) + "/order-success?session_id={CHECKOUT_SESSION_ID}"
}

func CancelURL(returnURL string) string {
	return trimSlash(returnURL) + "/checkout"
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
