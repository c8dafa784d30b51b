package kernel

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/storage"
)

// ErrConfirmationInvalid covers every way a token redemption can fail:
// unknown, already used, expired, or presented from a different source.
// Callers get no more detail than that, matching what the user is told.
var ErrConfirmationInvalid = errors.New("kernel: confirmation token invalid or expired")

// Confirmer parks high-risk plans behind single-use tokens. Tokens live in
// the store so a restart between issue and redeem loses nothing; atomicity
// of the take guarantees single use under concurrent redemption.
type Confirmer struct {
	store  Store
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewConfirmer constructs a Confirmer with the given token lifetime.
func NewConfirmer(store Store, logger *slog.Logger, ttl time.Duration, now func() time.Time) *Confirmer {
	if now == nil {
		now = time.Now
	}
	return &Confirmer{store: store, logger: logger, ttl: ttl, now: now}
}

// Create parks the plan and returns the pending confirmation, token set.
func (c *Confirmer) Create(ctx context.Context, calls []model.ToolCall, source, request string, toolPlan []string) (model.PendingConfirmation, error) {
	token, err := newToken()
	if err != nil {
		return model.PendingConfirmation{}, err
	}
	now := c.now()
	pending := model.PendingConfirmation{
		Token:     token,
		ToolCalls: calls,
		Source:    source,
		Request:   request,
		ToolPlan:  toolPlan,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	if err := c.store.PutConfirmation(ctx, pending); err != nil {
		return model.PendingConfirmation{}, fmt.Errorf("kernel: park confirmation: %w", err)
	}
	c.logger.Info("confirmation required", "token", token, "source", source, "expires_at", pending.ExpiresAt)
	return pending, nil
}

// Redeem atomically consumes a token and returns the parked plan. The token
// is gone after this call whether or not redemption succeeds: a mismatched
// source or an expired deadline invalidates the plan rather than leaving it
// redeemable.
func (c *Confirmer) Redeem(ctx context.Context, token, source string) (model.PendingConfirmation, error) {
	now := c.now()
	if n, err := c.store.SweepConfirmations(ctx, now); err != nil {
		c.logger.Warn("confirmation sweep failed", "error", err)
	} else if n > 0 {
		c.logger.Debug("swept expired confirmations", "count", n)
	}

	pending, err := c.store.TakeConfirmation(ctx, strings.ToUpper(strings.TrimSpace(token)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.PendingConfirmation{}, ErrConfirmationInvalid
		}
		return model.PendingConfirmation{}, fmt.Errorf("kernel: take confirmation: %w", err)
	}
	if now.After(pending.ExpiresAt) {
		return model.PendingConfirmation{}, ErrConfirmationInvalid
	}
	if pending.Source != source {
		c.logger.Warn("confirmation source mismatch", "issued_to", pending.Source, "redeemed_from", source)
		return model.PendingConfirmation{}, ErrConfirmationInvalid
	}
	return pending, nil
}

// newToken returns a 12-character uppercase hex token from crypto/rand.
func newToken() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("kernel: generate token: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
