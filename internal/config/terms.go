package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/procura/internal/invoice/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PaymentTerms is a reusable milestone template applied when an invoice is created.
type PaymentTerms struct {
	Code       string           `mapstructure:"code" json:"code"`
	Name       string           `mapstructure:"name" json:"name"`
	Milestones []TermsMilestone `mapstructure:"milestones" json:"milestones"`
}

type TermsMilestone struct {
	Name       string         `mapstructure:"name" json:"name"`
	Percentage float64        `mapstructure:"percentage" json:"percentage"`
	Trigger    domain.Trigger `mapstructure:"trigger" json:"trigger"`
	OffsetDays int            `mapstructure:"offset_days" json:"offset_days"`
}

// PercentageDecimal returns the milestone percentage at two decimal places.
func (m TermsMilestone) PercentageDecimal() decimal.Decimal {
	return decimal.NewFromFloat(m.Percentage).Round(2)
}

func DefaultPaymentTerms() []PaymentTerms {
	return []PaymentTerms{
		{
			Code: "full-payment",
			Name: "Full payment upfront",
			Milestones: []TermsMilestone{
				{Name: "Full Payment", Percentage: 100, Trigger: domain.TriggerUpfront},
			},
		},
		{
			Code: "deposit-30-balance-on-shipment",
			Name: "30% deposit, 70% on shipment",
			Milestones: []TermsMilestone{
				{Name: "Deposit", Percentage: 30, Trigger: domain.TriggerPOConfirmed, OffsetDays: 7},
				{Name: "Balance", Percentage: 70, Trigger: domain.TriggerShipmentDeparted, OffsetDays: 30},
			},
		},
		{
			Code: "30-40-30",
			Name: "30% deposit, 40% after inspection, 30% on receipt",
			Milestones: []TermsMilestone{
				{Name: "Deposit", Percentage: 30, Trigger: domain.TriggerUpfront},
				{Name: "Inspection", Percentage: 40, Trigger: domain.TriggerInspectionPassed, OffsetDays: 7},
				{Name: "Final", Percentage: 30, Trigger: domain.TriggerGoodsReceived, OffsetDays: 30},
			},
		},
		{
			Code: "net-30-after-receipt",
			Name: "Net 30 after goods received",
			Milestones: []TermsMilestone{
				{Name: "Net 30", Percentage: 100, Trigger: domain.TriggerGoodsReceived, OffsetDays: 30},
			},
		},
	}
}

type TermsHolder struct {
	current atomic.Value // holds []PaymentTerms
}

// NewTermsHolder loads payment terms from payment_terms.yml and reloads them
// when the file changes. Built-in defaults apply when no file exists.
func NewTermsHolder(cfg Config, log *zap.Logger) (*TermsHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.terms")

	v := viper.New()
	if cfg.PaymentTermsPath != "" {
		v.SetConfigFile(cfg.PaymentTermsPath)
	} else {
		v.SetConfigName("payment_terms")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/procura")
		v.AddConfigPath(".")
	}

	holder := &TermsHolder{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		holder.current.Store(normalizeTerms(DefaultPaymentTerms()))
		log.Info("payment terms file not found, using defaults")
		return holder, nil
	}

	terms, err := readTerms(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(terms)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readTerms(v)
		if err != nil {
			log.Warn("payment terms reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("payment terms reloaded", zap.String("file", e.Name), zap.Int("count", len(updated)))
	})

	return holder, nil
}

// NewStaticTermsHolder serves a fixed set of validated terms.
func NewStaticTermsHolder(terms []PaymentTerms) (*TermsHolder, error) {
	terms = normalizeTerms(terms)
	if err := ValidatePaymentTerms(terms); err != nil {
		return nil, err
	}
	holder := &TermsHolder{}
	holder.current.Store(terms)
	return holder, nil
}

// All returns every template ordered by code.
func (h *TermsHolder) All() []PaymentTerms {
	terms := h.current.Load().([]PaymentTerms)
	return append([]PaymentTerms(nil), terms...)
}

// Lookup finds a template by code. Codes are compared in slug form.
func (h *TermsHolder) Lookup(code string) (PaymentTerms, bool) {
	code = slug.Make(code)
	for _, t := range h.current.Load().([]PaymentTerms) {
		if t.Code == code {
			return t, true
		}
	}
	return PaymentTerms{}, false
}

func readTerms(v *viper.Viper) ([]PaymentTerms, error) {
	var terms []PaymentTerms
	if err := v.UnmarshalKey("payment_terms", &terms); err != nil {
		return nil, err
	}
	terms = normalizeTerms(terms)
	if err := ValidatePaymentTerms(terms); err != nil {
		return nil, err
	}
	return terms, nil
}

func normalizeTerms(terms []PaymentTerms) []PaymentTerms {
	out := make([]PaymentTerms, 0, len(terms))
	for _, t := range terms {
		t.Code = slug.Make(t.Code)
		t.Name = strings.TrimSpace(t.Name)
		milestones := make([]TermsMilestone, 0, len(t.Milestones))
		for _, m := range t.Milestones {
			m.Name = strings.TrimSpace(m.Name)
			m.Trigger = domain.Trigger(strings.ToLower(strings.TrimSpace(string(m.Trigger))))
			milestones = append(milestones, m)
		}
		t.Milestones = milestones
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ValidatePaymentTerms checks that every template is addressable and sums to 100%.
func ValidatePaymentTerms(terms []PaymentTerms) error {
	if len(terms) == 0 {
		return errors.New("payment_terms cannot be empty")
	}
	seen := make(map[string]struct{}, len(terms))
	hundred := decimal.NewFromInt(100)
	for _, t := range terms {
		if t.Code == "" {
			return errors.New("payment_terms code is required")
		}
		if _, dup := seen[t.Code]; dup {
			return fmt.Errorf("payment_terms %q is defined twice", t.Code)
		}
		seen[t.Code] = struct{}{}
		if len(t.Milestones) == 0 {
			return fmt.Errorf("payment_terms %q has no milestones", t.Code)
		}
		total := decimal.Zero
		for _, m := range t.Milestones {
			if !m.Trigger.Valid() {
				return fmt.Errorf("payment_terms %q: unknown trigger %q", t.Code, m.Trigger)
			}
			if m.OffsetDays < 0 {
				return fmt.Errorf("payment_terms %q: offset_days must not be negative", t.Code)
			}
			pct := m.PercentageDecimal()
			if pct.LessThanOrEqual(decimal.Zero) || pct.GreaterThan(hundred) {
				return fmt.Errorf("payment_terms %q: percentage %s out of range", t.Code, pct.String())
			}
			total = total.Add(pct)
		}
		if !total.Equal(hundred) {
			return fmt.Errorf("payment_terms %q: percentages total %s, want 100", t.Code, total.StringFixed(2))
		}
	}
	return nil
}
