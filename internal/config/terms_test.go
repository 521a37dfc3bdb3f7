package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallbiznis/procura/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const termsYAML = `
payment_terms:
  - code: "LC 50/50"
    name: Letter of credit split
    milestones:
      - name: At sight
        percentage: 50
        trigger: shipment_departed
      - name: On arrival
        percentage: 50
        trigger: Goods_Received
        offset_days: 15
`

func TestNewTermsHolderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payment_terms.yml")
	require.NoError(t, os.WriteFile(path, []byte(termsYAML), 0o600))

	holder, err := NewTermsHolder(Config{PaymentTermsPath: path}, zap.NewNop())
	require.NoError(t, err)

	terms, ok := holder.Lookup("lc 50/50")
	require.True(t, ok)
	assert.Equal(t, "lc-50-50", terms.Code)
	require.Len(t, terms.Milestones, 2)
	assert.Equal(t, domain.TriggerGoodsReceived, terms.Milestones[1].Trigger)
	assert.Equal(t, 15, terms.Milestones[1].OffsetDays)
	assert.Len(t, holder.All(), 1)
}

func TestNewTermsHolderRejectsBadTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payment_terms.yml")
	body := `
payment_terms:
  - code: broken
    milestones:
      - name: Half
        percentage: 50
        trigger: upfront
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := NewTermsHolder(Config{PaymentTermsPath: path}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total 50.00")
}

func TestNewTermsHolderDefaultsWhenNoFile(t *testing.T) {
	holder, err := NewTermsHolder(Config{}, zap.NewNop())
	require.NoError(t, err)
	_, ok := holder.Lookup("full-payment")
	assert.True(t, ok)
	assert.NoError(t, ValidatePaymentTerms(holder.All()))
}

func TestValidatePaymentTerms(t *testing.T) {
	cases := []struct {
		name  string
		terms []PaymentTerms
	}{
		{name: "empty"},
		{name: "no code", terms: []PaymentTerms{{Milestones: []TermsMilestone{{Percentage: 100, Trigger: domain.TriggerUpfront}}}}},
		{name: "unknown trigger", terms: []PaymentTerms{{Code: "x", Milestones: []TermsMilestone{{Percentage: 100, Trigger: "eventually"}}}}},
		{name: "negative offset", terms: []PaymentTerms{{Code: "x", Milestones: []TermsMilestone{{Percentage: 100, Trigger: domain.TriggerManual, OffsetDays: -1}}}}},
		{name: "duplicate", terms: []PaymentTerms{
			{Code: "x", Milestones: []TermsMilestone{{Percentage: 100, Trigger: domain.TriggerUpfront}}},
			{Code: "x", Milestones: []TermsMilestone{{Percentage: 100, Trigger: domain.TriggerUpfront}}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidatePaymentTerms(tc.terms))
		})
	}

	_, err := NewStaticTermsHolder([]PaymentTerms{{
		Code: "thirds",
		Milestones: []TermsMilestone{
			{Percentage: 33.33, Trigger: domain.TriggerUpfront},
			{Percentage: 33.33, Trigger: domain.TriggerPOConfirmed},
			{Percentage: 33.34, Trigger: domain.TriggerGoodsReceived},
		},
	}})
	assert.NoError(t, err)
}
