package onramp

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mavuno/core"
	"mavuno/core/genesis"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/factory"
	"mavuno/native/fiat"
	"mavuno/native/lending"
	"mavuno/storage"
)

const testSecret = "webhook-secret"

func addr(label string) crypto.Address {
	return crypto.ModuleAddress(crypto.Address{}, "onramp-test/"+label)
}

var (
	admin  = addr("admin")
	minter = addr("minter")
	payer  = addr("payer")
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func newLedger(t *testing.T) *core.Node {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), lending.Params{LTVBps: 7_000, ReserveFactorBps: 1_000, Model: lending.DefaultInterestModel})
	require.NoError(t, err)
	node.SetNowFunc(func() int64 { return 1_700_000_000 })
	_, err = node.Bootstrap(genesis.Default(admin))
	require.NoError(t, err)
	require.NoError(t, node.GrantMinter(admin, fiat.NGN, minter))
	return node
}

func newProcessor(t *testing.T, ledger Ledger, quota nativecommon.Quota) (*Processor, *time.Time) {
	t.Helper()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	p, err := NewProcessor(Config{
		DB:       openDB(t),
		Ledger:   ledger,
		Minter:   minter,
		Provider: "paystack",
		Quota:    quota,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	return p, &now
}

func notification(ref string, amount int64) Notification {
	return Notification{
		Reference: ref,
		Status:    "paid",
		Account:   payer.String(),
		Currency:  "NGN",
		Amount:    big.NewInt(amount).String(),
		Purpose:   "supply",
	}
}

func TestReceiptIDIsStable(t *testing.T) {
	a := ReceiptID("paystack", "ref-1", payer.String(), big.NewInt(100))
	require.Len(t, a, 64)
	require.Equal(t, a, ReceiptID("paystack", "ref-1", payer.String(), big.NewInt(100)))
	require.NotEqual(t, a, ReceiptID("paystack", "ref-1", payer.String(), big.NewInt(101)))
	require.NotEqual(t, a, ReceiptID("flutterwave", "ref-1", payer.String(), big.NewInt(100)))
}

func TestProcessSuppliesToPool(t *testing.T) {
	node := newLedger(t)
	p, _ := newProcessor(t, node, nativecommon.Quota{})

	payment, err := p.Process(context.Background(), notification("ref-1", 250_000))
	require.NoError(t, err)
	require.Equal(t, StatusSettled, payment.Status)
	require.NotNil(t, payment.SettledAt)
	require.Equal(t, ReceiptID("paystack", "ref-1", payer.String(), big.NewInt(250_000)), payment.ReceiptID)

	snap, err := node.PoolSnapshot(fiat.NGN)
	require.NoError(t, err)
	require.Equal(t, int64(250_000), snap.TotalSupplied.Int64())
	view, err := node.Account(fiat.NGN, payer)
	require.NoError(t, err)
	require.Equal(t, int64(250_000), view.SupplyBalance.Int64())
	require.Zero(t, view.FiatBalance.Sign())

	again, err := p.Process(context.Background(), notification("ref-1", 250_000))
	require.ErrorIs(t, err, ErrDuplicatePayment)
	require.Equal(t, payment.ReceiptID, again.ReceiptID)
	snap, err = node.PoolSnapshot(fiat.NGN)
	require.NoError(t, err)
	require.Equal(t, int64(250_000), snap.TotalSupplied.Int64())
}

func TestSettlementKeepsExistingPoolAllowance(t *testing.T) {
	node := newLedger(t)
	p, _ := newProcessor(t, node, nativecommon.Quota{})
	pool := factory.PoolAddress(fiat.NGN)

	require.NoError(t, node.Associate(fiat.NGN, payer))
	require.NoError(t, node.Approve(fiat.NGN, payer, pool, big.NewInt(40_000)))

	_, err := p.Process(context.Background(), notification("ref-allow", 250_000))
	require.NoError(t, err)

	allowance, err := node.FiatAllowance(fiat.NGN, payer, pool)
	require.NoError(t, err)
	require.Equal(t, int64(40_000), allowance.Int64())
	view, err := node.Account(fiat.NGN, payer)
	require.NoError(t, err)
	require.Equal(t, int64(250_000), view.SupplyBalance.Int64())
}

func TestProcessRejectsBadNotifications(t *testing.T) {
	p, _ := newProcessor(t, &fakeLedger{}, nativecommon.Quota{})
	ctx := context.Background()

	cases := map[string]func(n *Notification){
		"missing reference": func(n *Notification) { n.Reference = " " },
		"bad account":       func(n *Notification) { n.Account = "not-an-address" },
		"unknown currency":  func(n *Notification) { n.Currency = "USD" },
		"zero amount":       func(n *Notification) { n.Amount = "0" },
		"fractional amount": func(n *Notification) { n.Amount = "10.5" },
		"unknown purpose":   func(n *Notification) { n.Purpose = "swap" },
	}
	for name, mutate := range cases {
		n := notification("ref-bad", 100)
		mutate(&n)
		_, err := p.Process(ctx, n)
		require.ErrorIs(t, err, ErrInvalidNotification, name)
	}

	n := notification("ref-pending", 100)
	n.Status = "pending"
	_, err := p.Process(ctx, n)
	require.ErrorIs(t, err, ErrIgnoredStatus)
}

func TestQuotaPerAccount(t *testing.T) {
	ledger := &fakeLedger{}
	quota := nativecommon.Quota{MaxRequestsPerEpoch: 10, MaxMintPerEpoch: 1_000, EpochSeconds: 86_400}
	p, now := newProcessor(t, ledger, quota)
	ctx := context.Background()

	_, err := p.Process(ctx, notification("q-1", 600))
	require.NoError(t, err)
	_, err = p.Process(ctx, notification("q-2", 500))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.True(t, errors.Is(err, ErrQuotaExceeded))
	_, err = p.Process(ctx, notification("q-3", 400))
	require.NoError(t, err)

	*now = now.Add(24 * time.Hour)
	_, err = p.Process(ctx, notification("q-4", 1_000))
	require.NoError(t, err)
	require.Equal(t, 3, ledger.supplies)
}

func TestFailedMintReleasesQuota(t *testing.T) {
	ledger := &fakeLedger{mintErr: errors.New("fiat: unauthorized")}
	quota := nativecommon.Quota{MaxMintPerEpoch: 1_000, EpochSeconds: 86_400}
	p, _ := newProcessor(t, ledger, quota)
	ctx := context.Background()

	payment, err := p.Process(ctx, notification("f-1", 900))
	require.ErrorIs(t, err, ErrSettlementFailed)
	stored, err := p.Payment(ctx, "f-1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Contains(t, stored.Error, "mint")
	require.Equal(t, payment.ID, stored.ID)

	ledger.mintErr = nil
	_, err = p.Process(ctx, notification("f-2", 900))
	require.NoError(t, err)
}

func TestRepayPurposeRepays(t *testing.T) {
	ledger := &fakeLedger{}
	p, _ := newProcessor(t, ledger, nativecommon.Quota{})
	farmer := addr("farmer")
	n := notification("r-1", 700)
	n.Purpose = "repay"
	n.OnBehalfOf = farmer.String()
	_, err := p.Process(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, 1, ledger.repays)
	require.Equal(t, farmer, ledger.lastOnBehalfOf)
	require.Equal(t, 1, ledger.associations)
}

func TestWebhookHandler(t *testing.T) {
	node := newLedger(t)
	p, _ := newProcessor(t, node, nativecommon.Quota{})
	handler, err := NewWebhookHandler(p, testSecret, nil)
	require.NoError(t, err)

	send := func(body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/onramp/webhook", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, signature)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	body, err := json.Marshal(notification("wh-1", 10_000))
	require.NoError(t, err)

	rr := send(body, Sign("wrong-secret", body))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = send(body, "zz")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = send(body, Sign(testSecret, body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var ack WebhookResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	require.Equal(t, StatusSettled, ack.Status)
	require.False(t, ack.Duplicate)

	rr = send(body, Sign(testSecret, body))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	require.True(t, ack.Duplicate)

	bad := []byte(`{"reference":"wh-2","account":"x","currency":"NGN","amount":"1"}`)
	rr = send(bad, Sign(testSecret, bad))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReporterWritesSettledPayments(t *testing.T) {
	ledger := &fakeLedger{}
	p, now := newProcessor(t, ledger, nativecommon.Quota{})
	ctx := context.Background()
	_, err := p.Process(ctx, notification("rep-1", 123_456))
	require.NoError(t, err)
	ledger.supplyErr = errors.New("lending engine: pool paused")
	_, err = p.Process(ctx, notification("rep-2", 100))
	require.Error(t, err)

	dir := t.TempDir()
	reporter, err := NewReporter(p.db, dir, func() time.Time { return *now }, nil)
	require.NoError(t, err)
	report, err := reporter.Run(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, report.Count)

	f, err := os.Open(report.CSVPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "rep-1", rows[1][2])
	require.Equal(t, "1234.56", rows[1][8])

	info, err := os.Stat(report.ParquetPath)
	require.NoError(t, err)
	require.Positive(t, info.Size())

	_, err = reporter.Schedule("not a cron spec", 0)
	require.Error(t, err)
}

type fakeLedger struct {
	associated     bool
	associations   int
	supplies       int
	repays         int
	lastOnBehalfOf crypto.Address
	mintErr        error
	supplyErr      error
}

func (f *fakeLedger) IsAssociated(fiat.Currency, crypto.Address) (bool, error) {
	return f.associated, nil
}

func (f *fakeLedger) Associate(fiat.Currency, crypto.Address) error {
	f.associations++
	f.associated = true
	return nil
}

func (f *fakeLedger) Mint(crypto.Address, fiat.Currency, crypto.Address, *big.Int) error {
	return f.mintErr
}

func (f *fakeLedger) FiatAllowance(fiat.Currency, crypto.Address, crypto.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (f *fakeLedger) Approve(fiat.Currency, crypto.Address, crypto.Address, *big.Int) error {
	return nil
}

func (f *fakeLedger) Supply(_ crypto.Address, _ fiat.Currency, amount *big.Int, onBehalfOf crypto.Address) (*big.Int, error) {
	if f.supplyErr != nil {
		return nil, f.supplyErr
	}
	f.supplies++
	f.lastOnBehalfOf = onBehalfOf
	return new(big.Int).Set(amount), nil
}

func (f *fakeLedger) Repay(_ crypto.Address, _ fiat.Currency, amount *big.Int, onBehalfOf crypto.Address) (*lending.RepayResult, error) {
	f.repays++
	f.lastOnBehalfOf = onBehalfOf
	return &lending.RepayResult{}, nil
}
