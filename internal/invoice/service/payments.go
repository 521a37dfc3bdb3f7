package service

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/invoice/allocation"
	"github.com/smallbiznis/procura/internal/invoice/balance"
	"github.com/smallbiznis/procura/internal/invoice/domain"
	"github.com/smallbiznis/procura/internal/invoice/trigger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecordPayment validates a payment against the invoice balance, spreads it
// over the selected milestones and stores the payment with its allocations.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (*domain.Payment, error) {
	method, err := domain.ParsePaymentMethod(string(req.Method))
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		s.obsMetrics.RecordPaymentRejected(ctx, domain.RuleAmountNotPositive)
		return nil, &domain.PaymentValidationError{Rule: domain.RuleAmountNotPositive}
	}
	now := s.clock.Now().UTC()
	paidOn := trigger.Day(now)
	if !req.Date.IsZero() {
		paidOn = trigger.Day(req.Date)
	}
	if paidOn.After(trigger.Day(now)) {
		return nil, domain.ErrInvalidPaymentDate
	}
	attachmentInputs, err := validateAttachments(req.Attachments)
	if err != nil {
		return nil, err
	}

	var payment domain.Payment
	err = s.withInvoice(ctx, req.InvoiceID, func(tx *gorm.DB, invoice *domain.Invoice) error {
		items, err := s.repo.ListItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		payments, err := s.repo.ListPayments(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		summary := balance.Compute(*invoice, items, payments, now)

		result, err := allocation.Allocate(allocation.Request{
			Amount:  req.Amount,
			Balance: summary.Balance,
			Items:   items,
			ItemIDs: req.ScheduleItemIDs,
		})
		if err != nil {
			return err
		}
		credited, err := allocation.Apply(items, result.Credits, paidOn)
		if err != nil {
			return err
		}
		credited, _ = trigger.TickAll(credited, now)

		payment = domain.Payment{
			ID:              s.genID.Generate(),
			InvoiceID:       invoice.ID,
			Date:            paidOn,
			Amount:          req.Amount,
			Method:          method,
			Reference:       strings.TrimSpace(req.Reference),
			Notes:           strings.TrimSpace(req.Notes),
			Metadata:        jsonMap(req.Metadata),
			CreatedAt:       now,
			ScheduleItemIDs: []snowflake.ID{},
		}
		if err := s.repo.InsertPayment(ctx, tx, &payment); err != nil {
			return err
		}

		payment.Allocations = make([]domain.PaymentAllocation, 0, len(result.Credits))
		for _, c := range result.Credited() {
			payment.ScheduleItemIDs = append(payment.ScheduleItemIDs, c.ScheduleItemID)
			payment.Allocations = append(payment.Allocations, domain.PaymentAllocation{
				ID:             s.genID.Generate(),
				PaymentID:      payment.ID,
				ScheduleItemID: c.ScheduleItemID,
				Amount:         c.Amount,
				CreatedAt:      now,
			})
		}
		if err := s.repo.InsertAllocations(ctx, tx, payment.Allocations); err != nil {
			return err
		}

		payment.Attachments = s.newAttachments(payment.ID, attachmentInputs, now)
		if err := s.repo.InsertAttachments(ctx, tx, payment.Attachments); err != nil {
			return err
		}

		if err := s.saveChanged(ctx, tx, items, credited, now); err != nil {
			return err
		}
		_, err = s.refresh(ctx, tx, invoice, credited, now)
		return err
	})
	if err != nil {
		if rejected, ok := isPaymentValidation(err); ok {
			s.obsMetrics.RecordPaymentRejected(ctx, rejected.Rule)
		}
		return nil, err
	}

	s.obsMetrics.RecordPayment(ctx, string(payment.Method), len(payment.ScheduleItemIDs) > 0, payment.Amount)
	s.log.Info("payment recorded",
		zap.String("invoice_id", payment.InvoiceID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.Int64("amount", payment.Amount),
		zap.String("method", string(payment.Method)),
		zap.Int("milestones", len(payment.ScheduleItemIDs)),
	)
	s.audit(ctx, auditdomain.ActionPaymentRecorded, auditdomain.TargetTypePayment, payment.ID, map[string]any{
		"invoice_id": payment.InvoiceID.String(),
		"amount":     payment.Amount,
		"method":     string(payment.Method),
		"reference":  payment.Reference,
		"milestones": len(payment.ScheduleItemIDs),
	})
	return &payment, nil
}

// DeletePayment removes a payment and reverses exactly what it credited. The
// confirmation must equal the stored reference byte for byte; payments stored
// without a reference cannot be deleted here.
func (s *Service) DeletePayment(ctx context.Context, invoiceID, paymentID snowflake.ID, confirmationReference string) (bool, error) {
	var deleted domain.Payment
	err := s.withInvoice(ctx, invoiceID, func(tx *gorm.DB, invoice *domain.Invoice) error {
		payment, err := s.repo.FindPayment(ctx, tx, invoice.ID, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.Reference == "" {
			return &domain.UndeletablePaymentError{PaymentID: payment.ID}
		}
		if confirmationReference != payment.Reference {
			return &domain.ConfirmationMismatchError{PaymentID: payment.ID}
		}

		now := s.clock.Now().UTC()
		allocations, err := s.repo.ListAllocations(ctx, tx, []snowflake.ID{payment.ID})
		if err != nil {
			return err
		}
		items, err := s.repo.ListItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		reversed, err := allocation.Reverse(items, allocations)
		if err != nil {
			return err
		}
		reversed, _ = trigger.TickAll(reversed, now)

		if err := s.repo.DeleteAttachments(ctx, tx, payment.ID); err != nil {
			return err
		}
		if err := s.repo.DeleteAllocations(ctx, tx, payment.ID); err != nil {
			return err
		}
		if err := s.repo.DeletePayment(ctx, tx, payment.ID); err != nil {
			return err
		}
		if err := s.saveChanged(ctx, tx, items, reversed, now); err != nil {
			return err
		}
		if _, err := s.refresh(ctx, tx, invoice, reversed, now); err != nil {
			return err
		}
		deleted = *payment
		deleted.Allocations = allocations
		return nil
	})
	if err != nil {
		return false, err
	}

	s.obsMetrics.RecordPaymentDeleted(ctx, string(deleted.Method))
	s.log.Info("payment deleted",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("payment_id", paymentID.String()),
		zap.Int64("amount", deleted.Amount),
		zap.Int("reversed_allocations", len(deleted.Allocations)),
	)
	s.audit(ctx, auditdomain.ActionPaymentDeleted, auditdomain.TargetTypePayment, paymentID, map[string]any{
		"invoice_id":             invoiceID.String(),
		"amount":                 deleted.Amount,
		"confirmation_reference": confirmationReference,
	})
	return true, nil
}

// AddAttachments stores descriptors for files already uploaded to the
// attachment store.
func (s *Service) AddAttachments(ctx context.Context, invoiceID, paymentID snowflake.ID, attachments []domain.AttachmentInput) ([]domain.PaymentAttachment, error) {
	inputs, err := validateAttachments(attachments)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, domain.ErrInvalidAttachment
	}

	var created []domain.PaymentAttachment
	err = s.withInvoice(ctx, invoiceID, func(tx *gorm.DB, invoice *domain.Invoice) error {
		payment, err := s.repo.FindPayment(ctx, tx, invoice.ID, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		created = s.newAttachments(payment.ID, inputs, s.clock.Now().UTC())
		return s.repo.InsertAttachments(ctx, tx, created)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, auditdomain.ActionAttachmentsAdded, auditdomain.TargetTypePayment, paymentID, map[string]any{
		"invoice_id": invoiceID.String(),
		"count":      len(created),
	})
	return created, nil
}

func (s *Service) newAttachments(paymentID snowflake.ID, inputs []domain.AttachmentInput, now time.Time) []domain.PaymentAttachment {
	out := make([]domain.PaymentAttachment, 0, len(inputs))
	for _, in := range inputs {
		id := s.genID.Generate()
		out = append(out, domain.PaymentAttachment{
			ID:          id,
			PaymentID:   paymentID,
			FileName:    in.FileName,
			ContentType: in.ContentType,
			SizeBytes:   in.SizeBytes,
			StorageKey:  StorageKey(s.attachmentPrefix, paymentID, id, in.FileName),
			CreatedAt:   now,
		})
	}
	return out
}

// StorageKey derives the object key of an attachment:
// <prefix>/<payment id>/<attachment id>-<slug of base name><ext>.
func StorageKey(prefix string, paymentID, attachmentID snowflake.ID, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	name := slug.Make(strings.TrimSuffix(base, path.Ext(base)))
	if name == "" {
		name = "file"
	}
	return path.Join(prefix, paymentID.String(), attachmentID.String()+"-"+name+ext)
}

func validateAttachments(in []domain.AttachmentInput) ([]domain.AttachmentInput, error) {
	out := make([]domain.AttachmentInput, 0, len(in))
	for _, a := range in {
		a.FileName = strings.TrimSpace(a.FileName)
		a.ContentType = strings.TrimSpace(a.ContentType)
		if a.FileName == "" || a.SizeBytes < 0 {
			return nil, domain.ErrInvalidAttachment
		}
		out = append(out, a)
	}
	return out, nil
}
