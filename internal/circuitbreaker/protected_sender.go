package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/notify"
)

// ProtectedSender wraps a channel sender with a CircuitBreaker. When a
// provider (SES, SNS, the chat gateway) starts failing, the circuit
// opens and sends fail fast instead of piling up against a dead service.
// A tripped breaker surfaces as an ordinary send error, which the
// dispatcher records as a normal {success:false} channel outcome.
type ProtectedSender struct {
	sender  notify.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps sender with circuit breaker protection.
func NewProtectedSender(sender notify.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send delivers through the breaker: open circuit fails fast, and every
// real send outcome feeds the breaker's failure accounting.
func (p *ProtectedSender) Send(ctx context.Context, d notify.Delivery) (notify.Outcome, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.Name()),
			zap.String("event_type", string(d.EventType)),
			zap.String("state", p.breaker.GetState().String()),
		)
		return notify.Outcome{}, fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	outcome, err := p.sender.Send(ctx, d)
	if err != nil {
		p.breaker.RecordFailure()
		return notify.Outcome{}, err
	}

	p.breaker.RecordSuccess()
	return outcome, nil
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
