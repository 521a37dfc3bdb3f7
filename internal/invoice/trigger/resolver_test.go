package trigger

import (
	"math/rand"
	"testing"
	"time"

	"github.com/smallbiznis/procura/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func inspectionMilestone() domain.ScheduleItem {
	return domain.ScheduleItem{
		ID:            2,
		MilestoneName: "Inspection",
		Amount:        50_000,
		Trigger:       domain.TriggerInspectionPassed,
		TriggerStatus: domain.TriggerStatusPending,
		OffsetDays:    7,
	}
}

func TestFireThenTickToOverdue(t *testing.T) {
	item, changed := Fire(inspectionMilestone(), domain.TriggerInspectionPassed, date(2024, 2, 1))
	require.True(t, changed)
	assert.Equal(t, domain.TriggerStatusTriggered, item.TriggerStatus)
	assert.Equal(t, date(2024, 2, 1), *item.TriggerDate)
	assert.Equal(t, date(2024, 2, 8), *item.DueDate)

	item, changed = Tick(item, date(2024, 2, 10))
	require.True(t, changed)
	assert.Equal(t, domain.TriggerStatusOverdue, item.TriggerStatus)
}

func TestFireIgnoresOtherTriggersAndRepeats(t *testing.T) {
	item, changed := Fire(inspectionMilestone(), domain.TriggerGoodsReceived, date(2024, 2, 1))
	assert.False(t, changed)
	assert.Equal(t, domain.TriggerStatusPending, item.TriggerStatus)

	item, _ = Fire(item, domain.TriggerInspectionPassed, date(2024, 2, 1))
	again, changed := Fire(item, domain.TriggerInspectionPassed, date(2024, 3, 1))
	assert.False(t, changed)
	assert.Equal(t, date(2024, 2, 1), *again.TriggerDate)
}

func TestUpfrontIsTriggeredAtIssueAndNeverFired(t *testing.T) {
	item := domain.ScheduleItem{Amount: 100, Trigger: domain.TriggerUpfront}
	item = Initialize(item, time.Date(2024, 1, 5, 17, 30, 0, 0, time.UTC))
	assert.Equal(t, domain.TriggerStatusTriggered, item.TriggerStatus)
	assert.Equal(t, date(2024, 1, 5), *item.TriggerDate)
	assert.Equal(t, *item.TriggerDate, *item.DueDate)

	pending := domain.ScheduleItem{Amount: 100, Trigger: domain.TriggerUpfront, TriggerStatus: domain.TriggerStatusPending}
	_, changed := Fire(pending, domain.TriggerUpfront, date(2024, 1, 5))
	assert.False(t, changed)
}

func TestInitializeLeavesOtherTriggersPending(t *testing.T) {
	item := inspectionMilestone()
	due := date(2024, 1, 1)
	item.DueDate = &due
	item.TriggerStatus = domain.TriggerStatusOverdue

	item = Initialize(item, date(2024, 1, 1))
	assert.Equal(t, domain.TriggerStatusPending, item.TriggerStatus)
	assert.Nil(t, item.TriggerDate)
	assert.Nil(t, item.DueDate)
}

func TestManualFire(t *testing.T) {
	item := domain.ScheduleItem{Amount: 100, Trigger: domain.TriggerManual, TriggerStatus: domain.TriggerStatusPending}
	item, changed := Fire(item, domain.TriggerManual, time.Date(2024, 4, 2, 23, 59, 0, 0, time.UTC))
	require.True(t, changed)
	assert.Equal(t, date(2024, 4, 2), *item.DueDate)
}

func TestTickUsesDateGranularity(t *testing.T) {
	item := inspectionMilestone()
	item.OffsetDays = 0
	item, _ = Fire(item, domain.TriggerInspectionPassed, date(2024, 2, 1))

	same, changed := Tick(item, time.Date(2024, 2, 1, 23, 59, 59, 0, time.UTC))
	assert.False(t, changed)
	assert.Equal(t, domain.TriggerStatusTriggered, same.TriggerStatus)

	_, changed = Tick(item, date(2024, 2, 2))
	assert.True(t, changed)
}

func TestTickSkipsPaidAndPending(t *testing.T) {
	item, _ := Fire(inspectionMilestone(), domain.TriggerInspectionPassed, date(2024, 2, 1))
	item.PaidAmount = item.Amount
	_, changed := Tick(item, date(2024, 6, 1))
	assert.False(t, changed)

	_, changed = Tick(inspectionMilestone(), date(2024, 6, 1))
	assert.False(t, changed)
}

func TestTickIsIdempotent(t *testing.T) {
	item, _ := Fire(inspectionMilestone(), domain.TriggerInspectionPassed, date(2024, 2, 1))
	now := date(2024, 2, 20)

	once, _ := Tick(item, now)
	twice, changed := Tick(once, now)
	assert.False(t, changed)
	assert.Equal(t, once, twice)
}

func TestTickNeverRegresses(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	triggers := domain.Triggers()
	for round := 0; round < 500; round++ {
		item := domain.ScheduleItem{
			Amount:        rng.Int63n(1000) + 1,
			Trigger:       triggers[rng.Intn(len(triggers))],
			TriggerStatus: domain.TriggerStatusPending,
			OffsetDays:    rng.Intn(30),
		}
		item = Initialize(item, date(2024, 1, 1))
		item, _ = Fire(item, item.Trigger, date(2024, 1, 1).AddDate(0, 0, rng.Intn(20)))
		if rng.Intn(3) == 0 {
			item.PaidAmount = item.Amount
		}
		reached := item.TriggerStatus != domain.TriggerStatusPending || Settled(item)

		now := date(2024, 1, 1)
		for step := 0; step < 10; step++ {
			now = now.AddDate(0, 0, rng.Intn(15))
			item, _ = Tick(item, now)
			if reached {
				assert.NotEqual(t, domain.TriggerStatusPending, item.TriggerStatus, "round %d", round)
			}
		}
	}
}

func TestRescheduleMovesDueDate(t *testing.T) {
	item, _ := Fire(inspectionMilestone(), domain.TriggerInspectionPassed, date(2024, 2, 1))
	item, _ = Tick(item, date(2024, 2, 10))
	require.Equal(t, domain.TriggerStatusOverdue, item.TriggerStatus)

	item.OffsetDays = 30
	item = Reschedule(item, date(2024, 2, 10))
	assert.Equal(t, date(2024, 3, 2), *item.DueDate)
	assert.Equal(t, domain.TriggerStatusTriggered, item.TriggerStatus)

	item.OffsetDays = 1
	item = Reschedule(item, date(2024, 2, 10))
	assert.Equal(t, domain.TriggerStatusOverdue, item.TriggerStatus)
}

func TestIsPastDueAndDescribe(t *testing.T) {
	pending := inspectionMilestone()
	assert.False(t, IsPastDue(pending, date(2030, 1, 1)))
	assert.Equal(t, StateAwaiting, Describe(pending).State)
	assert.Equal(t, "Awaiting Inspection passed", Describe(pending).Label)

	fired, _ := Fire(pending, domain.TriggerInspectionPassed, date(2024, 2, 1))
	assert.False(t, IsPastDue(fired, date(2024, 2, 8)))
	assert.True(t, IsPastDue(fired, date(2024, 2, 9)))
	view := Describe(fired)
	assert.Equal(t, StateTriggered, view.State)
	assert.Equal(t, date(2024, 2, 8), *view.DueDate)

	paidOn := date(2024, 2, 12)
	fired.PaidAmount = fired.Amount
	fired.PaidDate = &paidOn
	assert.False(t, IsPastDue(fired, date(2024, 3, 1)))
	view = Describe(fired)
	assert.Equal(t, StateSettled, view.State)
	assert.Equal(t, paidOn, *view.PaidDate)
	assert.Nil(t, view.DueDate)
}

func TestFireAllAndTickAll(t *testing.T) {
	items := []domain.ScheduleItem{
		inspectionMilestone(),
		{ID: 3, Amount: 10, Trigger: domain.TriggerGoodsReceived, TriggerStatus: domain.TriggerStatusPending},
		{ID: 4, Amount: 10, Trigger: domain.TriggerInspectionPassed, TriggerStatus: domain.TriggerStatusPending},
	}
	fired, count := FireAll(items, domain.TriggerInspectionPassed, date(2024, 2, 1))
	assert.Equal(t, 2, count)
	assert.Equal(t, domain.TriggerStatusPending, items[0].TriggerStatus)

	ticked, count := TickAll(fired, date(2024, 2, 5))
	assert.Equal(t, 1, count)
	assert.Equal(t, domain.TriggerStatusOverdue, ticked[2].TriggerStatus)
	assert.Equal(t, domain.TriggerStatusTriggered, ticked[0].TriggerStatus)
}
