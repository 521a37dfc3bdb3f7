// Package trigger derives milestone lifecycle state from business events and
// elapsed time. Every function works on copies and performs no I/O.
package trigger

import (
	"time"

	"github.com/smallbiznis/procura/internal/invoice/domain"
)

// Timeline states.
const (
	StateAwaiting  = "awaiting_trigger"
	StateTriggered = "triggered"
	StateOverdue   = "overdue"
	StateSettled   = "settled"
)

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Initialize resets a milestone to its creation state. Upfront milestones are
// due on the issue date.
func Initialize(item domain.ScheduleItem, issuedAt time.Time) domain.ScheduleItem {
	item.TriggerStatus = domain.TriggerStatusPending
	item.TriggerDate = nil
	item.DueDate = nil
	if item.Trigger == domain.TriggerUpfront {
		issued := Day(issuedAt)
		item.TriggerStatus = domain.TriggerStatusTriggered
		item.TriggerDate = &issued
		item.DueDate = dueFrom(issued, item.OffsetDays)
	}
	return item
}

// Fire starts the countdown of a pending milestone whose trigger matches.
// It reports whether the milestone changed. Upfront never fires and a
// milestone that already fired keeps its dates.
func Fire(item domain.ScheduleItem, trigger domain.Trigger, eventDate time.Time) (domain.ScheduleItem, bool) {
	if trigger == domain.TriggerUpfront || item.Trigger != trigger {
		return item, false
	}
	if item.TriggerStatus != domain.TriggerStatusPending {
		return item, false
	}
	day := Day(eventDate)
	item.TriggerDate = &day
	item.DueDate = dueFrom(day, item.OffsetDays)
	item.TriggerStatus = domain.TriggerStatusTriggered
	return item, true
}

// FireAll fires trigger on every milestone and returns the count that changed.
func FireAll(items []domain.ScheduleItem, trigger domain.Trigger, eventDate time.Time) ([]domain.ScheduleItem, int) {
	out := make([]domain.ScheduleItem, len(items))
	fired := 0
	for i, item := range items {
		next, changed := Fire(item, trigger, eventDate)
		if changed {
			fired++
		}
		out[i] = next
	}
	return out, fired
}

// Tick moves a triggered, unpaid milestone to overdue once the current date
// is past its due date. Comparison is by date so a milestone due today is
// never overdue today.
func Tick(item domain.ScheduleItem, now time.Time) (domain.ScheduleItem, bool) {
	if item.TriggerStatus != domain.TriggerStatusTriggered {
		return item, false
	}
	if item.PaidAmount >= item.Amount || item.DueDate == nil {
		return item, false
	}
	if !Day(now).After(Day(*item.DueDate)) {
		return item, false
	}
	item.TriggerStatus = domain.TriggerStatusOverdue
	return item, true
}

// TickAll applies Tick to every milestone and returns the count that changed.
func TickAll(items []domain.ScheduleItem, now time.Time) ([]domain.ScheduleItem, int) {
	out := make([]domain.ScheduleItem, len(items))
	ticked := 0
	for i, item := range items {
		next, changed := Tick(item, now)
		if changed {
			ticked++
		}
		out[i] = next
	}
	return out, ticked
}

// Reschedule recomputes the due date after the offset of a fired milestone
// was edited. An overdue milestone whose new due date is not yet past
// returns to triggered.
func Reschedule(item domain.ScheduleItem, now time.Time) domain.ScheduleItem {
	if item.TriggerDate == nil {
		return item
	}
	item.DueDate = dueFrom(Day(*item.TriggerDate), item.OffsetDays)
	if item.TriggerStatus == domain.TriggerStatusOverdue && !Day(now).After(*item.DueDate) {
		item.TriggerStatus = domain.TriggerStatusTriggered
	}
	next, _ := Tick(item, now)
	return next
}

// Settled reports whether the milestone is fully paid.
func Settled(item domain.ScheduleItem) bool {
	return item.Amount > 0 && item.PaidAmount >= item.Amount
}

// IsPastDue reports whether an unsettled milestone is overdue or would tick
// to overdue at now.
func IsPastDue(item domain.ScheduleItem, now time.Time) bool {
	if Settled(item) || item.Remaining() == 0 {
		return false
	}
	if item.TriggerStatus == domain.TriggerStatusOverdue {
		return true
	}
	_, changed := Tick(item, now)
	return changed
}

// Describe returns the display timeline of a milestone.
func Describe(item domain.ScheduleItem) domain.MilestoneTimeline {
	if Settled(item) {
		return domain.MilestoneTimeline{
			State:    StateSettled,
			Label:    "Paid",
			PaidDate: item.PaidDate,
		}
	}
	switch item.TriggerStatus {
	case domain.TriggerStatusTriggered:
		return domain.MilestoneTimeline{
			State:       StateTriggered,
			Label:       item.Trigger.Label(),
			TriggerDate: item.TriggerDate,
			DueDate:     item.DueDate,
		}
	case domain.TriggerStatusOverdue:
		return domain.MilestoneTimeline{
			State:       StateOverdue,
			Label:       item.Trigger.Label(),
			TriggerDate: item.TriggerDate,
			DueDate:     item.DueDate,
		}
	default:
		return domain.MilestoneTimeline{
			State: StateAwaiting,
			Label: "Awaiting " + item.Trigger.Label(),
		}
	}
}

func dueFrom(day time.Time, offsetDays int) *time.Time {
	if offsetDays < 0 {
		offsetDays = 0
	}
	due := day.AddDate(0, 0, offsetDays)
	return &due
}
