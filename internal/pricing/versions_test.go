package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

func TestVersionLogAppendOnly(t *testing.T) {
	log := NewVersionLog()

	v1, err := log.Define(digitalTerms(models.ModelMonteCarlo))
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	_, err = log.Define(digitalTerms(models.ModelMonteCarlo))
	assert.ErrorIs(t, err, qerrors.ErrConfigInvalid)

	v2, err := log.Revise("DIG-1", func(p *models.ProductTerms) {
		*p.StrikePrice = 105
		p.Notional = decimal.NewFromInt(2)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, 105.0, *v2.StrikePrice)

	// the revision must not leak into version 1
	old, err := log.Get("DIG-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, *old.StrikePrice)
	assert.True(t, old.Notional.Equal(decimal.NewFromInt(1)))

	latest, err := log.Latest("DIG-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	assert.Len(t, log.History("DIG-1"), 2)
	assert.Equal(t, []string{"DIG-1"}, log.Products())

	_, err = log.Get("DIG-1", 3)
	assert.ErrorIs(t, err, qerrors.ErrVersionNotFound)
	_, err = log.Revise("missing", func(*models.ProductTerms) {})
	assert.ErrorIs(t, err, qerrors.ErrVersionNotFound)
}

func TestVersionLogRejectsInvalidTerms(t *testing.T) {
	log := NewVersionLog()

	bad := digitalTerms(models.ModelBlackScholes)
	bad.StrikePrice = models.Float(-5)
	_, err := log.Define(bad)
	assert.ErrorIs(t, err, qerrors.ErrPricingUnavailable)
	assert.Empty(t, log.History("DIG-1"))

	_, err = log.Define(digitalTerms(models.ModelBlackScholes))
	require.NoError(t, err)

	_, err = log.Revise("DIG-1", func(p *models.ProductTerms) { p.PayoffRate = models.Float(-0.5) })
	assert.ErrorIs(t, err, qerrors.ErrPricingUnavailable)
	_, err = log.Revise("DIG-1", func(p *models.ProductTerms) { p.BarrierLevel = models.Float(0) })
	assert.Error(t, err)

	// rejected revisions leave no version behind
	assert.Len(t, log.History("DIG-1"), 1)
	latest, err := log.Latest("DIG-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, *latest.PayoffRate)
}

func TestVersionLogRestore(t *testing.T) {
	log := NewVersionLog()
	a := digitalTerms(models.ModelMonteCarlo)
	a.Version = 2
	b := digitalTerms(models.ModelMonteCarlo)
	b.Version = 1
	log.Restore([]models.ProductTerms{a, b})

	latest, err := log.Latest("DIG-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
}

func TestResultHistoryLatestCompleted(t *testing.T) {
	h := NewResultHistory()
	_, ok := h.Latest("X")
	assert.False(t, ok)

	now := time.Now()
	h.Record(models.PricingResult{ProductID: "X", FairValue: 1, Timestamp: now})
	// a slower run started earlier finishes later and becomes latest
	h.Record(models.PricingResult{ProductID: "X", FairValue: 2, Timestamp: now.Add(-time.Minute)})

	latest, ok := h.Latest("X")
	require.True(t, ok)
	assert.Equal(t, 2.0, latest.FairValue)
	assert.Len(t, h.History("X"), 2)
}
