package onramp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/factory"
	"mavuno/native/fiat"
	"mavuno/native/lending"
	"mavuno/observability"
)

// Ledger is the subset of the node the on-ramp drives. Each call is one
// ledger transaction.
type Ledger interface {
	IsAssociated(cur fiat.Currency, account crypto.Address) (bool, error)
	Associate(cur fiat.Currency, account crypto.Address) error
	Mint(caller crypto.Address, cur fiat.Currency, to crypto.Address, amount *big.Int) error
	FiatAllowance(cur fiat.Currency, owner, spender crypto.Address) (*big.Int, error)
	Approve(cur fiat.Currency, owner, spender crypto.Address, amount *big.Int) error
	Supply(caller crypto.Address, cur fiat.Currency, amount *big.Int, onBehalfOf crypto.Address) (*big.Int, error)
	Repay(caller crypto.Address, cur fiat.Currency, amount *big.Int, onBehalfOf crypto.Address) (*lending.RepayResult, error)
}

// Notification is the payment provider's webhook payload.
type Notification struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Account   string `json:"account"`
	Currency  string `json:"currency"`
	// Amount is in fiat minor units (kobo, pesewas, cents).
	Amount     string `json:"amount"`
	Purpose    string `json:"purpose"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
}

var (
	ErrInvalidNotification = errors.New("onramp: invalid notification")
	ErrDuplicatePayment    = errors.New("onramp: payment already processed")
	ErrIgnoredStatus       = errors.New("onramp: payment not completed")
	ErrQuotaExceeded       = errors.New("onramp: quota exceeded")
	ErrSettlementFailed    = errors.New("onramp: settlement failed")
)

var completedStatuses = map[string]struct{}{
	"":           {},
	"paid":       {},
	"success":    {},
	"successful": {},
	"completed":  {},
}

// Config wires a Processor.
type Config struct {
	DB       *gorm.DB
	Ledger   Ledger
	Minter   crypto.Address
	Provider string
	Quota    nativecommon.Quota
	Now      func() time.Time
	Logger   *slog.Logger
}

// Processor turns verified provider notifications into ledger activity:
// mint to the payer, top up the pool allowance by the payment, then supply or
// repay. An allowance the payer already granted the pool is preserved.
type Processor struct {
	db       *gorm.DB
	ledger   Ledger
	minter   crypto.Address
	provider string
	quota    nativecommon.Quota
	now      func() time.Time
	logger   *slog.Logger

	// mu serialises quota read-modify-write.
	mu sync.Mutex
}

func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("onramp: database required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("onramp: ledger required")
	}
	if cfg.Minter.IsZero() {
		return nil, fmt.Errorf("onramp: minter address required")
	}
	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		provider = "default"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(cfg.DB); err != nil {
		return nil, fmt.Errorf("onramp: migrate: %w", err)
	}
	return &Processor{
		db:       cfg.DB,
		ledger:   cfg.Ledger,
		minter:   cfg.Minter,
		provider: provider,
		quota:    cfg.Quota,
		now:      now,
		logger:   logger,
	}, nil
}

type request struct {
	reference  string
	account    crypto.Address
	onBehalfOf crypto.Address
	currency   fiat.Currency
	amount     *big.Int
	purpose    Purpose
}

func parseNotification(n Notification) (*request, error) {
	status := strings.ToLower(strings.TrimSpace(n.Status))
	if _, ok := completedStatuses[status]; !ok {
		return nil, fmt.Errorf("%w: status %q", ErrIgnoredStatus, n.Status)
	}
	req := &request{reference: strings.TrimSpace(n.Reference)}
	if req.reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrInvalidNotification)
	}
	account, err := crypto.DecodeAddress(strings.TrimSpace(n.Account))
	if err != nil {
		return nil, fmt.Errorf("%w: account: %v", ErrInvalidNotification, err)
	}
	req.account = account
	if req.currency, err = fiat.ParseCurrency(n.Currency); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(n.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be a positive integer of minor units", ErrInvalidNotification)
	}
	req.amount = amount
	switch Purpose(strings.ToLower(strings.TrimSpace(n.Purpose))) {
	case "", PurposeSupply:
		req.purpose = PurposeSupply
	case PurposeRepay:
		req.purpose = PurposeRepay
	default:
		return nil, fmt.Errorf("%w: unknown purpose %q", ErrInvalidNotification, n.Purpose)
	}
	if trimmed := strings.TrimSpace(n.OnBehalfOf); trimmed != "" {
		if req.onBehalfOf, err = crypto.DecodeAddress(trimmed); err != nil {
			return nil, fmt.Errorf("%w: onBehalfOf: %v", ErrInvalidNotification, err)
		}
	}
	return req, nil
}

// Process records and settles a notification. A redelivered reference returns
// the stored payment together with ErrDuplicatePayment.
func (p *Processor) Process(ctx context.Context, n Notification) (*Payment, error) {
	req, err := parseNotification(n)
	if err != nil {
		if errors.Is(err, ErrIgnoredStatus) {
			observability.Onramp().RecordPayment("", "ignored")
		} else {
			observability.Onramp().RecordPayment("", "invalid")
		}
		return nil, err
	}
	start := p.now()
	payment, err := p.reserve(ctx, req)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, ErrDuplicatePayment):
			outcome = "duplicate"
		case errors.Is(err, ErrQuotaExceeded):
			outcome = "quota_exceeded"
		}
		observability.Onramp().RecordPayment(string(req.purpose), outcome)
		return payment, err
	}

	minted, settleErr := p.settle(req)
	if settleErr != nil {
		p.logger.Warn("onramp: settlement failed",
			"reference", req.reference, "currency", req.currency.String(), "error", settleErr)
		if err := p.fail(ctx, payment, req, minted, settleErr); err != nil {
			p.logger.Error("onramp: record failure", "reference", req.reference, "error", err)
		}
		observability.Onramp().RecordPayment(string(req.purpose), "failed")
		return payment, settleErr
	}

	settledAt := p.now().UTC()
	payment.Status = StatusSettled
	payment.SettledAt = &settledAt
	if err := p.db.WithContext(ctx).Model(payment).
		Updates(map[string]any{"status": StatusSettled, "settled_at": settledAt}).Error; err != nil {
		return payment, fmt.Errorf("onramp: mark settled: %w", err)
	}
	observability.Onramp().RecordPayment(string(req.purpose), "settled")
	observability.Onramp().RecordSettlement(string(req.purpose), req.currency.String(), req.amount, p.now().Sub(start))
	p.logger.Info("onramp: payment settled",
		"reference", req.reference, "currency", req.currency.String(),
		"purpose", string(req.purpose), "receipt", payment.ReceiptID)
	return payment, nil
}

// reserve stores the pending payment and charges the payer's quota.
func (p *Processor) reserve(ctx context.Context, req *request) (*Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var payment Payment
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Payment
		err := tx.First(&existing, "provider = ? AND reference = ?", p.provider, req.reference).Error
		if err == nil {
			payment = existing
			return ErrDuplicatePayment
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if !req.amount.IsUint64() {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, nativecommon.ErrQuotaCounterOverflow)
		}
		usage := QuotaUsage{Account: req.account.String()}
		if err := tx.FirstOrInit(&usage, "account = ?", usage.Account).Error; err != nil {
			return err
		}
		nowEpoch := p.quota.Epoch(p.now().Unix())
		next, err := nativecommon.CheckQuota(p.quota, nowEpoch,
			nativecommon.QuotaNow{ReqCount: usage.ReqCount, Minted: usage.Minted, EpochID: usage.EpochID},
			1, req.amount.Uint64())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		usage.EpochID, usage.ReqCount, usage.Minted = next.EpochID, next.ReqCount, next.Minted
		if err := tx.Save(&usage).Error; err != nil {
			return err
		}

		payment = Payment{
			ID:        uuid.New(),
			Provider:  p.provider,
			Reference: req.reference,
			Account:   req.account.String(),
			Currency:  req.currency.String(),
			Purpose:   req.purpose,
			Amount:    req.amount.String(),
			ReceiptID: ReceiptID(p.provider, req.reference, req.account.String(), req.amount),
			Status:    StatusPending,
			CreatedAt: p.now().UTC(),
		}
		if !req.onBehalfOf.IsZero() {
			payment.OnBehalfOf = req.onBehalfOf.String()
		}
		return tx.Create(&payment).Error
	})
	if err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			return &payment, err
		}
		return nil, err
	}
	return &payment, nil
}

// settle runs the ledger steps. minted reports whether new supply was issued
// before a later step failed.
func (p *Processor) settle(req *request) (minted bool, err error) {
	step := func(name string, err error) error {
		if err == nil {
			return nil
		}
		return fmt.Errorf("%w: %s: %w", ErrSettlementFailed, name, err)
	}
	associated, err := p.ledger.IsAssociated(req.currency, req.account)
	if err != nil {
		return false, step("associate", err)
	}
	if !associated {
		if err := p.ledger.Associate(req.currency, req.account); err != nil {
			return false, step("associate", err)
		}
	}
	if err := p.ledger.Mint(p.minter, req.currency, req.account, req.amount); err != nil {
		return false, step("mint", err)
	}
	// Top up, never overwrite, the payer's allowance to the pool.
	pool := factory.PoolAddress(req.currency)
	allowance, err := p.ledger.FiatAllowance(req.currency, req.account, pool)
	if err != nil {
		return true, step("approve", err)
	}
	allowance = new(big.Int).Add(allowance, req.amount)
	if err := p.ledger.Approve(req.currency, req.account, pool, allowance); err != nil {
		return true, step("approve", err)
	}
	switch req.purpose {
	case PurposeRepay:
		_, err = p.ledger.Repay(req.account, req.currency, req.amount, req.onBehalfOf)
	default:
		_, err = p.ledger.Supply(req.account, req.currency, req.amount, req.onBehalfOf)
	}
	return true, step(string(req.purpose), err)
}

func (p *Processor) fail(ctx context.Context, payment *Payment, req *request, minted bool, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	payment.Status = StatusFailed
	payment.Error = cause.Error()
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(payment).Updates(map[string]any{"status": StatusFailed, "error": payment.Error}).Error; err != nil {
			return err
		}
		if minted {
			return nil
		}
		// Nothing was issued, so the amount no longer counts against the cap.
		var usage QuotaUsage
		if err := tx.First(&usage, "account = ?", req.account.String()).Error; err != nil {
			return err
		}
		if usage.EpochID != p.quota.Epoch(payment.CreatedAt.Unix()) {
			return nil
		}
		amount := req.amount.Uint64()
		if usage.Minted < amount {
			usage.Minted = 0
		} else {
			usage.Minted -= amount
		}
		return tx.Save(&usage).Error
	})
}

// Payment looks up a stored payment by provider reference.
func (p *Processor) Payment(ctx context.Context, reference string) (*Payment, error) {
	var payment Payment
	err := p.db.WithContext(ctx).First(&payment, "provider = ? AND reference = ?", p.provider, strings.TrimSpace(reference)).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
