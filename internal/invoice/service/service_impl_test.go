package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	auditrepo "github.com/smallbiznis/procura/internal/audit/repository"
	auditservice "github.com/smallbiznis/procura/internal/audit/service"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/smallbiznis/procura/internal/invoice/domain"
	"github.com/smallbiznis/procura/internal/invoice/repository"
	"github.com/smallbiznis/procura/internal/invoice/service"
	"github.com/smallbiznis/procura/internal/invoicelock"
	"github.com/smallbiznis/procura/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	ctx   context.Context
	svc   domain.Service
	audit auditdomain.Service
	clock *clock.FakeClock
}

func newHarness(t *testing.T) harness {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC))
	terms, err := config.NewStaticTermsHolder(config.DefaultPaymentTerms())
	require.NoError(t, err)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  auditrepo.Provide(),
	})
	svc := service.NewService(service.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Repo:     repository.Provide(),
		Locker:   invoicelock.NewLocalLocker(),
		Cfg:      config.Config{AttachmentPrefix: "payments"},
		Terms:    terms,
		AuditSvc: auditSvc,
	})
	return harness{ctx: context.Background(), svc: svc, audit: auditSvc, clock: fake}
}

func (h harness) invoice(t *testing.T, number string, amount int64) *domain.InvoiceView {
	t.Helper()
	view, err := h.svc.CreateInvoice(h.ctx, domain.CreateInvoiceRequest{
		InvoiceNumber: number,
		SupplierName:  "Shenzhen Parts Co",
		Currency:      "usd",
		Amount:        amount,
	})
	require.NoError(t, err)
	return view
}

func pct(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func amount(v int64) *int64 { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (h harness) actions(t *testing.T, targetType string) []string {
	t.Helper()
	resp, err := h.audit.List(h.ctx, auditdomain.ListAuditLogRequest{TargetType: targetType})
	require.NoError(t, err)
	out := make([]string, 0, len(resp.AuditLogs))
	for _, entry := range resp.AuditLogs {
		out = append(out, entry.Action)
	}
	return out
}

func TestCreateInvoiceDefaultsToSingleUpfrontMilestone(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-001", 1_000_000)

	assert.Equal(t, "USD", view.Currency)
	assert.Equal(t, domain.InvoiceStatusUnpaid, view.Status)
	assert.Equal(t, int64(1_000_000), view.Balance)
	require.Len(t, view.Schedule, 1)
	item := view.Schedule[0]
	assert.Equal(t, "Full Payment", item.MilestoneName)
	assert.True(t, item.Percentage.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(1_000_000), item.Amount)
	assert.Equal(t, domain.TriggerStatusTriggered, item.TriggerStatus)
	require.NotNil(t, item.DueDate)
	assert.True(t, item.DueDate.Equal(day(2024, 2, 1)))
	assert.False(t, item.PastDue)

	_, err := h.svc.CreateInvoice(h.ctx, domain.CreateInvoiceRequest{InvoiceNumber: "INV-001", Currency: "USD", Amount: 10})
	assert.ErrorIs(t, err, domain.ErrInvoiceNumberTaken)

	assert.Contains(t, h.actions(t, auditdomain.TargetTypeInvoice), auditdomain.ActionInvoiceCreated)
}

func TestCreateInvoiceValidation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name string
		req  domain.CreateInvoiceRequest
		want error
	}{
		{name: "number", req: domain.CreateInvoiceRequest{Currency: "USD", Amount: 1}, want: domain.ErrInvalidInvoiceNumber},
		{name: "amount", req: domain.CreateInvoiceRequest{InvoiceNumber: "A", Currency: "USD"}, want: domain.ErrInvalidAmount},
		{name: "currency", req: domain.CreateInvoiceRequest{InvoiceNumber: "A", Currency: "US1", Amount: 1}, want: domain.ErrInvalidCurrency},
		{name: "terms", req: domain.CreateInvoiceRequest{InvoiceNumber: "A", Currency: "USD", Amount: 1, TermsCode: "net-900"}, want: domain.ErrUnknownPaymentTerms},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateInvoice(h.ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateInvoiceFromPaymentTerms(t *testing.T) {
	h := newHarness(t)
	view, err := h.svc.CreateInvoice(h.ctx, domain.CreateInvoiceRequest{
		InvoiceNumber: "INV-TERMS",
		Currency:      "USD",
		Amount:        1_000_000,
		TermsCode:     "30-40-30",
	})
	require.NoError(t, err)
	require.Len(t, view.Schedule, 3)

	var total int64
	for _, item := range view.Schedule {
		total += item.Amount
	}
	assert.Equal(t, int64(1_000_000), total)
	assert.Equal(t, "Deposit", view.Schedule[0].MilestoneName)
	assert.Equal(t, int64(300_000), view.Schedule[0].Amount)
	assert.Equal(t, domain.TriggerStatusTriggered, view.Schedule[0].TriggerStatus)
	assert.Equal(t, domain.TriggerInspectionPassed, view.Schedule[1].Trigger)
	assert.Equal(t, 7, view.Schedule[1].OffsetDays)
	assert.Equal(t, domain.TriggerStatusPending, view.Schedule[1].TriggerStatus)
	assert.Equal(t, int64(300_000), view.Schedule[2].Amount)
}

// splitThirtySeventy turns the default schedule into 30% upfront and 70% on
// goods received.
func (h harness) splitThirtySeventy(t *testing.T, view *domain.InvoiceView) *domain.InvoiceView {
	t.Helper()
	saved, err := h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[0].ID, MilestoneName: "Deposit", Percentage: pct("30"), Trigger: domain.TriggerUpfront},
		{MilestoneName: "Balance", Percentage: pct("70"), Trigger: domain.TriggerGoodsReceived, OffsetDays: 30},
	})
	require.NoError(t, err)
	require.Len(t, saved.Schedule, 2)
	return saved
}

func TestSaveScheduleCommitsValidSchedule(t *testing.T) {
	h := newHarness(t)
	view := h.splitThirtySeventy(t, h.invoice(t, "INV-002", 1_000_000))

	assert.Equal(t, "Deposit", view.Schedule[0].MilestoneName)
	assert.Equal(t, int64(300_000), view.Schedule[0].Amount)
	assert.Equal(t, 1, view.Schedule[0].SortOrder)
	assert.Equal(t, "Balance", view.Schedule[1].MilestoneName)
	assert.Equal(t, int64(700_000), view.Schedule[1].Amount)
	assert.True(t, view.Schedule[1].Percentage.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, domain.TriggerStatusPending, view.Schedule[1].TriggerStatus)
	assert.Equal(t, "awaiting_trigger", view.Schedule[1].Timeline.State)
}

func TestSaveScheduleRejectsInvalidTotalWithoutWriting(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-003", 1_000_000)

	_, err := h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[0].ID, Percentage: pct("50")},
		{MilestoneName: "Rest", Percentage: pct("49.98")},
	})
	var invalid *domain.ScheduleInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "99.98", invalid.Total.StringFixed(2))

	after, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, after.Schedule, 1)
	assert.Equal(t, int64(1_000_000), after.Schedule[0].Amount)
}

func TestSaveScheduleAmountEditsAndUnknownIDs(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-004", 10_000)

	saved, err := h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[0].ID, Amount: amount(3_333)},
		{MilestoneName: "Rest", Amount: amount(6_667)},
	})
	require.NoError(t, err)
	require.Len(t, saved.Schedule, 2)
	assert.Equal(t, "33.33", saved.Schedule[0].Percentage.StringFixed(2))
	assert.Equal(t, "66.67", saved.Schedule[1].Percentage.StringFixed(2))
	assert.Equal(t, int64(10_000), saved.Schedule[0].Amount+saved.Schedule[1].Amount)

	_, err = h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{{ID: 42, Percentage: pct("100")}})
	assert.ErrorIs(t, err, domain.ErrMilestoneNotFound)

	_, err = h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: saved.Schedule[0].ID, Percentage: pct("100"), Trigger: "eventually"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTrigger)
}

func TestRecordPaymentAgainstMilestone(t *testing.T) {
	h := newHarness(t)
	view := h.splitThirtySeventy(t, h.invoice(t, "INV-005", 1_000_000))
	m1 := view.Schedule[0].ID

	payment, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          300_000,
		Method:          domain.PaymentMethodWireTransfer,
		Reference:       "WT-001",
		ScheduleItemIDs: []snowflake.ID{m1},
	})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{m1}, payment.ScheduleItemIDs)
	require.Len(t, payment.Allocations, 1)
	assert.Equal(t, int64(300_000), payment.Allocations[0].Amount)
	assert.True(t, payment.Date.Equal(day(2024, 2, 1)))

	after, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), after.PaidAmount)
	assert.Equal(t, int64(700_000), after.Balance)
	assert.Equal(t, domain.InvoiceStatusPartial, after.Status)
	assert.Equal(t, int64(300_000), after.Schedule[0].PaidAmount)
	require.NotNil(t, after.Schedule[0].PaidDate)
	assert.True(t, after.Schedule[0].Settled)
	assert.Equal(t, "settled", after.Schedule[0].Timeline.State)
	require.Len(t, after.Payments, 1)
	assert.Equal(t, []snowflake.ID{m1}, after.Payments[0].ScheduleItemIDs)

	assert.Contains(t, h.actions(t, auditdomain.TargetTypePayment), auditdomain.ActionPaymentRecorded)
}

func TestRecordPaymentValidation(t *testing.T) {
	h := newHarness(t)
	view := h.splitThirtySeventy(t, h.invoice(t, "INV-006", 1_000_000))

	cases := []struct {
		name string
		req  domain.RecordPaymentRequest
		rule string
	}{
		{name: "zero", req: domain.RecordPaymentRequest{InvoiceID: view.ID}, rule: domain.RuleAmountNotPositive},
		{name: "over balance", req: domain.RecordPaymentRequest{InvoiceID: view.ID, Amount: 1_000_001, ScheduleItemIDs: []snowflake.ID{view.Schedule[0].ID}}, rule: domain.RuleAmountExceedsBalance},
		{name: "unlinked", req: domain.RecordPaymentRequest{InvoiceID: view.ID, Amount: 100}, rule: domain.RuleMilestoneSelectionRequired},
		{name: "over selection", req: domain.RecordPaymentRequest{InvoiceID: view.ID, Amount: 300_001, ScheduleItemIDs: []snowflake.ID{view.Schedule[0].ID}}, rule: domain.RuleAmountExceedsSelection},
		{name: "unknown", req: domain.RecordPaymentRequest{InvoiceID: view.ID, Amount: 100, ScheduleItemIDs: []snowflake.ID{7}}, rule: domain.RuleUnknownMilestone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.RecordPayment(h.ctx, tc.req)
			var invalid *domain.PaymentValidationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.rule, invalid.Rule)
		})
	}

	_, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{InvoiceID: view.ID, Amount: 100, Method: "barter"})
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)

	_, err = h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          100,
		Date:            day(2024, 2, 2),
		ScheduleItemIDs: []snowflake.ID{view.Schedule[0].ID},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentDate)

	_, err = h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{InvoiceID: 99, Amount: 100})
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)

	after, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Zero(t, after.PaidAmount)
	assert.Empty(t, after.Payments)
}

func TestRecordPaymentSplitsExactlyAcrossThirds(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-007", 10_000)
	view, err := h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[0].ID, Percentage: pct("33.33")},
		{Percentage: pct("33.33")},
		{Percentage: pct("33.34")},
	})
	require.NoError(t, err)
	ids := []snowflake.ID{view.Schedule[0].ID, view.Schedule[1].ID, view.Schedule[2].ID}

	payment, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          10_000,
		ScheduleItemIDs: ids,
	})
	require.NoError(t, err)
	require.Len(t, payment.Allocations, 3)
	assert.Equal(t, int64(3_333), payment.Allocations[0].Amount)
	assert.Equal(t, int64(3_333), payment.Allocations[1].Amount)
	assert.Equal(t, int64(3_334), payment.Allocations[2].Amount)

	after, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, after.Status)
	assert.Zero(t, after.Balance)
	assert.Zero(t, after.Unallocated)
}

func TestDeletePaymentRequiresExactReference(t *testing.T) {
	h := newHarness(t)
	view := h.splitThirtySeventy(t, h.invoice(t, "INV-008", 1_000_000))
	before, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)

	payment, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          250_000,
		Reference:       "WT-001",
		ScheduleItemIDs: []snowflake.ID{view.Schedule[0].ID, view.Schedule[1].ID},
	})
	require.NoError(t, err)

	ok, err := h.svc.DeletePayment(h.ctx, view.ID, payment.ID, "WT-002")
	var mismatch *domain.ConfirmationMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.False(t, ok)
	assert.Equal(t, payment.ID, mismatch.PaymentID)

	mid, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250_000), mid.PaidAmount)
	assert.Equal(t, int64(250_000), mid.Schedule[0].PaidAmount+mid.Schedule[1].PaidAmount)

	_, err = h.svc.DeletePayment(h.ctx, view.ID, payment.ID, "wt-001")
	require.ErrorAs(t, err, &mismatch)

	ok, err = h.svc.DeletePayment(h.ctx, view.ID, payment.ID, "WT-001")
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, before.PaidAmount, after.PaidAmount)
	assert.Equal(t, before.Balance, after.Balance)
	assert.Equal(t, before.Status, after.Status)
	for i := range before.Schedule {
		assert.Equal(t, before.Schedule[i].PaidAmount, after.Schedule[i].PaidAmount)
		assert.Nil(t, after.Schedule[i].PaidDate)
	}
	assert.Empty(t, after.Payments)

	_, err = h.svc.DeletePayment(h.ctx, view.ID, payment.ID, "WT-001")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	assert.Contains(t, h.actions(t, auditdomain.TargetTypePayment), auditdomain.ActionPaymentDeleted)
}

func TestDeletePaymentWithoutReferenceIsRefused(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-009", 5_000)
	payment, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          5_000,
		ScheduleItemIDs: []snowflake.ID{view.Schedule[0].ID},
	})
	require.NoError(t, err)

	_, err = h.svc.DeletePayment(h.ctx, view.ID, payment.ID, "")
	var undeletable *domain.UndeletablePaymentError
	require.ErrorAs(t, err, &undeletable)

	after, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, after.Status)
}

func TestConcurrentPaymentsDoNotLoseUpdates(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-010", 1_000)
	item := view.Schedule[0].ID

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
				InvoiceID:       view.ID,
				Amount:          100,
				ScheduleItemIDs: []snowflake.ID{item},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	after, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), after.PaidAmount)
	assert.Equal(t, int64(1_000), after.Schedule[0].PaidAmount)
	assert.Equal(t, domain.InvoiceStatusPaid, after.Status)
	assert.Len(t, after.Payments, 10)
}

func TestTriggerFeedAndOverdueSweep(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-011", 100_000)
	view, err := h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[0].ID, MilestoneName: "Deposit", Percentage: pct("50"), Trigger: domain.TriggerUpfront},
		{MilestoneName: "Inspection", Percentage: pct("50"), Trigger: domain.TriggerInspectionPassed, OffsetDays: 7},
	})
	require.NoError(t, err)
	_, err = h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          50_000,
		ScheduleItemIDs: []snowflake.ID{view.Schedule[0].ID},
	})
	require.NoError(t, err)

	_, err = h.svc.ApplyTrigger(h.ctx, domain.TriggerEventRequest{InvoiceID: view.ID, Trigger: domain.TriggerManual})
	assert.ErrorIs(t, err, domain.ErrTriggerNotExternal)

	event := domain.TriggerEventRequest{InvoiceID: view.ID, Trigger: domain.TriggerInspectionPassed, EventDate: day(2024, 2, 1)}
	res, err := h.svc.ApplyTrigger(h.ctx, event)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerResult{Applied: 1}, res)

	res, err = h.svc.ApplyTrigger(h.ctx, event)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Zero(t, res.Applied)

	fired, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	inspection := fired.Schedule[1]
	assert.Equal(t, domain.TriggerStatusTriggered, inspection.TriggerStatus)
	require.NotNil(t, inspection.DueDate)
	assert.True(t, inspection.DueDate.Equal(day(2024, 2, 8)))

	h.clock.Set(time.Date(2024, 2, 8, 23, 0, 0, 0, time.UTC))
	count, err := h.svc.SweepOverdue(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	h.clock.Set(time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC))
	count, err = h.svc.SweepOverdue(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = h.svc.SweepOverdue(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	overdue, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerStatusOverdue, overdue.Schedule[1].TriggerStatus)
	assert.Equal(t, domain.InvoiceStatusOverdue, overdue.Status)
	assert.Equal(t, 1, overdue.OverdueItems)
	assert.Equal(t, domain.TriggerStatusTriggered, overdue.Schedule[0].TriggerStatus)

	_, err = h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          50_000,
		ScheduleItemIDs: []snowflake.ID{overdue.Schedule[1].ID},
	})
	require.NoError(t, err)
	settled, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, settled.Status)
	assert.Equal(t, domain.TriggerStatusOverdue, settled.Schedule[1].TriggerStatus)
	assert.False(t, settled.Schedule[1].PastDue)

	actions := h.actions(t, auditdomain.TargetTypeInvoice)
	assert.Contains(t, actions, auditdomain.ActionTriggerApplied)
	assert.Contains(t, actions, auditdomain.ActionMilestoneOverdue)
}

func TestMarkManualMilestone(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-012", 20_000)

	_, err := h.svc.MarkManual(h.ctx, view.ID, view.Schedule[0].ID)
	assert.ErrorIs(t, err, domain.ErrMilestoneNotManual)

	view, err = h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[0].ID, Percentage: pct("100"), Trigger: domain.TriggerManual, OffsetDays: 14},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerStatusPending, view.Schedule[0].TriggerStatus)
	assert.Nil(t, view.Schedule[0].DueDate)

	_, err = h.svc.MarkManual(h.ctx, view.ID, 12345)
	assert.ErrorIs(t, err, domain.ErrMilestoneNotFound)

	h.clock.AdvanceDays(2)
	marked, err := h.svc.MarkManual(h.ctx, view.ID, view.Schedule[0].ID)
	require.NoError(t, err)
	item := marked.Schedule[0]
	assert.Equal(t, domain.TriggerStatusTriggered, item.TriggerStatus)
	require.NotNil(t, item.TriggerDate)
	assert.True(t, item.TriggerDate.Equal(day(2024, 2, 3)))
	assert.True(t, item.DueDate.Equal(day(2024, 2, 17)))

	h.clock.AdvanceDays(5)
	again, err := h.svc.MarkManual(h.ctx, view.ID, view.Schedule[0].ID)
	require.NoError(t, err)
	assert.True(t, again.Schedule[0].TriggerDate.Equal(day(2024, 2, 3)))
}

func TestSaveScheduleKeepsPaidMilestones(t *testing.T) {
	h := newHarness(t)
	view := h.splitThirtySeventy(t, h.invoice(t, "INV-013", 1_000_000))
	_, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          100_000,
		ScheduleItemIDs: []snowflake.ID{view.Schedule[0].ID},
	})
	require.NoError(t, err)

	_, err = h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[1].ID, Percentage: pct("100")},
	})
	assert.ErrorIs(t, err, domain.ErrMilestoneHasPayments)

	_, err = h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[0].ID, Percentage: pct("5")},
		{ID: view.Schedule[1].ID, Percentage: pct("95")},
	})
	var invalid *domain.ScheduleInvalidError
	require.ErrorAs(t, err, &invalid)

	reordered, err := h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[1].ID, Percentage: pct("70"), Trigger: domain.TriggerGoodsReceived, OffsetDays: 30},
		{ID: view.Schedule[0].ID, Percentage: pct("30"), Trigger: domain.TriggerUpfront},
	})
	require.NoError(t, err)
	assert.Equal(t, view.Schedule[1].ID, reordered.Schedule[0].ID)
	assert.Equal(t, int64(100_000), reordered.Schedule[1].PaidAmount)
}

func TestAddAttachmentsDerivesStorageKeys(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-014", 5_000)
	payment, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          1_000,
		ScheduleItemIDs: []snowflake.ID{view.Schedule[0].ID},
		Attachments:     []domain.AttachmentInput{{FileName: "Bank Slip 01.PDF", ContentType: "application/pdf", SizeBytes: 2048}},
	})
	require.NoError(t, err)
	require.Len(t, payment.Attachments, 1)
	first := payment.Attachments[0]
	assert.Equal(t, "payments/"+payment.ID.String()+"/"+first.ID.String()+"-bank-slip-01.pdf", first.StorageKey)

	added, err := h.svc.AddAttachments(h.ctx, view.ID, payment.ID, []domain.AttachmentInput{{FileName: "receipt.png", SizeBytes: 10}})
	require.NoError(t, err)
	require.Len(t, added, 1)

	_, err = h.svc.AddAttachments(h.ctx, view.ID, payment.ID, []domain.AttachmentInput{{FileName: "  "}})
	assert.ErrorIs(t, err, domain.ErrInvalidAttachment)
	_, err = h.svc.AddAttachments(h.ctx, view.ID, 77, []domain.AttachmentInput{{FileName: "a.txt"}})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	after, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, after.Payments, 1)
	assert.Len(t, after.Payments[0].Attachments, 2)
}

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "docs/10/20-swift-copy.pdf", service.StorageKey("docs", 10, 20, `C:\scans\SWIFT copy.pdf`))
	assert.Equal(t, "docs/10/20-file.txt", service.StorageKey("docs", 10, 20, "%%%.txt"))
}

func TestSummaryFoldsPortfolio(t *testing.T) {
	h := newHarness(t)
	paid := h.invoice(t, "INV-015", 1_000)
	h.invoice(t, "INV-016", 4_000)
	_, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       paid.ID,
		Amount:          1_000,
		ScheduleItemIDs: []snowflake.ID{paid.Schedule[0].ID},
	})
	require.NoError(t, err)

	h.clock.AdvanceDays(1)
	portfolio, err := h.svc.Summary(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, portfolio.InvoiceCount)
	assert.Equal(t, int64(5_000), portfolio.TotalAmount)
	assert.Equal(t, int64(1_000), portfolio.TotalPaid)
	assert.Equal(t, int64(4_000), portfolio.Outstanding)
	assert.Equal(t, 1, portfolio.ByStatus[domain.InvoiceStatusPaid])
	assert.Equal(t, 1, portfolio.OverdueCount)
}

func TestGetInvoiceNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.GetInvoice(h.ctx, 404)
	assert.True(t, errors.Is(err, domain.ErrInvoiceNotFound))
}

func TestRemovingMilestoneAfterCentSplitKeepsPaymentDeletable(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-020", 10_000)
	halves, err := h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[0].ID, Percentage: pct("50")},
		{MilestoneName: "Second half", Percentage: pct("50")},
	})
	require.NoError(t, err)
	m1, m2 := halves.Schedule[0].ID, halves.Schedule[1].ID

	payment, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          1,
		Reference:       "WT-1",
		ScheduleItemIDs: []snowflake.ID{m1, m2},
	})
	require.NoError(t, err)
	require.Len(t, payment.Allocations, 1)
	assert.Equal(t, m1, payment.Allocations[0].ScheduleItemID)
	assert.Equal(t, []snowflake.ID{m1}, payment.ScheduleItemIDs)

	_, err = h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{{ID: m1, Percentage: pct("100")}})
	require.NoError(t, err)

	ok, err := h.svc.DeletePayment(h.ctx, view.ID, payment.ID, "WT-1")
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), after.Balance)
	require.Len(t, after.Schedule, 1)
	assert.Zero(t, after.Schedule[0].PaidAmount)
}

func TestSaveScheduleRederivesPaidDate(t *testing.T) {
	h := newHarness(t)
	view := h.splitThirtySeventy(t, h.invoice(t, "INV-021", 1_000_000))
	m1, m2 := view.Schedule[0].ID, view.Schedule[1].ID

	_, err := h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          300_000,
		ScheduleItemIDs: []snowflake.ID{m1},
	})
	require.NoError(t, err)

	raised, err := h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: m1, Percentage: pct("40")},
		{ID: m2, Percentage: pct("60")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(400_000), raised.Schedule[0].Amount)
	assert.False(t, raised.Schedule[0].Settled)
	assert.Nil(t, raised.Schedule[0].PaidDate)
	assert.NotEqual(t, "settled", raised.Schedule[0].Timeline.State)

	h.clock.Advance(5 * 24 * time.Hour)
	_, err = h.svc.RecordPayment(h.ctx, domain.RecordPaymentRequest{
		InvoiceID:       view.ID,
		Amount:          100_000,
		ScheduleItemIDs: []snowflake.ID{m2},
	})
	require.NoError(t, err)
	h.clock.Advance(24 * time.Hour)

	shrunk, err := h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: m1, Amount: amount(900_000)},
		{ID: m2, Amount: amount(100_000)},
	})
	require.NoError(t, err)
	settled := shrunk.Schedule[1]
	assert.True(t, settled.Settled)
	require.NotNil(t, settled.PaidDate)
	assert.True(t, settled.PaidDate.Equal(day(2024, 2, 6)))
	assert.Equal(t, "settled", settled.Timeline.State)
	require.NotNil(t, settled.Timeline.PaidDate)
}

func TestTriggerArrivingBeforeMilestoneFiresOnRedelivery(t *testing.T) {
	h := newHarness(t)
	view := h.invoice(t, "INV-022", 100_000)
	event := domain.TriggerEventRequest{InvoiceID: view.ID, Trigger: domain.TriggerCustomsCleared, EventDate: day(2024, 2, 1)}

	res, err := h.svc.ApplyTrigger(h.ctx, event)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerResult{}, res)

	_, err = h.svc.SaveSchedule(h.ctx, view.ID, []domain.MilestoneInput{
		{ID: view.Schedule[0].ID, Percentage: pct("40"), Trigger: domain.TriggerUpfront},
		{MilestoneName: "Customs", Percentage: pct("60"), Trigger: domain.TriggerCustomsCleared, OffsetDays: 10},
	})
	require.NoError(t, err)

	res, err = h.svc.ApplyTrigger(h.ctx, event)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerResult{Applied: 1}, res)

	res, err = h.svc.ApplyTrigger(h.ctx, event)
	require.NoError(t, err)
	assert.True(t, res.Replayed)

	after, err := h.svc.GetInvoice(h.ctx, view.ID)
	require.NoError(t, err)
	customs := after.Schedule[1]
	assert.Equal(t, domain.TriggerStatusTriggered, customs.TriggerStatus)
	require.NotNil(t, customs.DueDate)
	assert.True(t, customs.DueDate.Equal(day(2024, 2, 11)))
}
