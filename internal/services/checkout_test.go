package services

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/arbfeed/paygate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkoutHarness struct {
	*settlementHarness
	store    *memoryStore
	journal  *memoryJournal
	checkout *CheckoutService
}

func newCheckoutHarness(t *testing.T, replies ...func(w http.ResponseWriter, r *http.Request)) *checkoutHarness {
	t.Helper()

	sh := newSettlementHarness(t, replies...)
	store := newMemoryStore()
	journal := &memoryJournal{}
	entitlements := newTestEntitlementService(store, nil)

	checkout := NewCheckoutService(sh.svc, entitlements, journal, testNetwork, testLogger())
	checkout.now = fixedNow

	return &checkoutHarness{settlementHarness: sh, store: store, journal: journal, checkout: checkout}
}

func validCheckout() CheckoutRequest {
	return CheckoutRequest{
		Wallet:       testWallet,
		Requirements: validRequirements(),
		Permit:       validPermit(),
	}
}

func TestComplete_EndToEnd(t *testing.T) {
	h := newCheckoutHarness(t, reply(200, `{"txHash":"0xfeed"}`))
	dataset := h.store.addDataset(testNow.Add(-time.Hour), testNow.Add(23*time.Hour))

	res, err := h.checkout.Complete(context.Background(), validCheckout())
	require.NoError(t, err)

	assert.Equal(t, "0xfeed", res.TxReference)
	assert.False(t, res.Bypassed)
	assert.True(t, res.ValidUntil.Equal(dataset.ExpiresAt))
	assert.Equal(t, dataset.ID, res.Entitlement.SharedDatasetID)
	assert.JSONEq(t, `{"txHash":"0xfeed"}`, string(res.Entitlement.FacilitatorResponse))
	assert.Equal(t, 1, h.callCount())

	status, err := h.checkout.entitlements.Status(context.Background(), testWallet)
	require.NoError(t, err)
	assert.True(t, status.IsValid)
	assert.Equal(t, "0xfeed", status.Entitlement.TxHash)
}

func TestComplete_Bypass(t *testing.T) {
	h := newCheckoutHarness(t, reply(500, `unused`))
	h.store.addDataset(testNow, testNow.Add(time.Hour))

	req := validCheckout()
	req.BypassToken = testBypassKey

	res, err := h.checkout.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Bypassed)
	assert.True(t, strings.HasPrefix(res.TxReference, "dev-bypass-"))
	assert.Equal(t, 0, h.callCount())
}

func TestComplete_RejectedBeforeSettlement(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CheckoutRequest)
	}{
		{"invalid wallet", func(r *CheckoutRequest) { r.Wallet = "0x1" }},
		{"owner mismatch", func(r *CheckoutRequest) { r.Permit.Owner = testSpender }},
		{"value mismatch", func(r *CheckoutRequest) { r.Permit.Value = "1" }},
		{"amount not numeric", func(r *CheckoutRequest) {
			r.Requirements.Amount = "1.5"
			r.Permit.Value = "1.5"
		}},
		{"requirements expired", func(r *CheckoutRequest) { r.Requirements.Deadline = testNow.Add(-time.Second).Unix() }},
		{"permit expired", func(r *CheckoutRequest) { r.Permit.Deadline = testNow.Unix() }},
		{"missing permit", func(r *CheckoutRequest) { r.Permit = nil }},
		{"missing requirements", func(r *CheckoutRequest) { r.Requirements = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCheckoutHarness(t, reply(200, `{"txHash":"0x1"}`))
			h.store.addDataset(testNow, testNow.Add(time.Hour))

			req := validCheckout()
			tt.mutate(&req)

			_, err := h.checkout.Complete(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, 0, h.callCount())
			assert.Empty(t, h.store.entitlements)
		})
	}
}

func TestComplete_OwnerMatchIgnoresCase(t *testing.T) {
	h := newCheckoutHarness(t, reply(200, `{"txHash":"0x1"}`))
	h.store.addDataset(testNow, testNow.Add(time.Hour))

	req := validCheckout()
	req.Wallet = strings.ToLower(testWallet)

	_, err := h.checkout.Complete(context.Background(), req)
	require.NoError(t, err)
}

func TestComplete_NoDatasetMeansNoPayment(t *testing.T) {
	h := newCheckoutHarness(t, reply(200, `{"txHash":"0x1"}`))

	_, err := h.checkout.Complete(context.Background(), validCheckout())
	assert.ErrorIs(t, err, ErrNoDataAvailable)
	assert.Equal(t, 0, h.callCount())
}

func TestComplete_ExpiredDatasetIsNotSold(t *testing.T) {
	h := newCheckoutHarness(t, reply(200, `{"txHash":"0xfeed"}`))
	h.store.addDataset(testNow.Add(-48*time.Hour), testNow.Add(-24*time.Hour))

	_, err := h.checkout.Complete(context.Background(), validCheckout())
	assert.ErrorIs(t, err, ErrNoDataAvailable)
	assert.Equal(t, 0, h.callCount())
	assert.Empty(t, h.store.entitlements)
	assert.Empty(t, h.journal.entries)
}

func TestComplete_SettlementFailure(t *testing.T) {
	h := newCheckoutHarness(t, reply(400, `{"code":"INVALID_SIGNATURE"}`))
	h.store.addDataset(testNow, testNow.Add(time.Hour))

	_, err := h.checkout.Complete(context.Background(), validCheckout())
	assert.ErrorIs(t, err, ErrSettlementFailed)
	assert.Empty(t, h.store.entitlements)
	assert.Empty(t, h.journal.entries)
}

func TestComplete_GrantFailureIsJournaled(t *testing.T) {
	h := newCheckoutHarness(t, reply(200, `{"txHash":"0xorphan"}`))
	dataset := h.store.addDataset(testNow, testNow.Add(time.Hour))
	h.store.insertErr = errStoreDown

	_, err := h.checkout.Complete(context.Background(), validCheckout())
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Contains(t, err.Error(), "0xorphan")

	pending, err := h.journal.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	entry := pending[0]
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", entry.WalletAddress)
	assert.Equal(t, "0xorphan", entry.TxReference)
	assert.Equal(t, dataset.ID.String(), entry.DatasetID)
	assert.JSONEq(t, `{"txHash":"0xorphan"}`, entry.FacilitatorResponse)
	assert.Equal(t, models.ReconciliationPending, entry.Status)
	assert.Contains(t, entry.Error, "connection refused")
}

func TestComplete_GrantFailureWithoutJournal(t *testing.T) {
	h := newCheckoutHarness(t, reply(200, `{"txHash":"0xorphan"}`))
	h.store.addDataset(testNow, testNow.Add(time.Hour))
	h.store.insertErr = errStoreDown
	h.checkout.journal = nil

	_, err := h.checkout.Complete(context.Background(), validCheckout())
	assert.ErrorIs(t, err, errStoreDown)
}
