package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khemia0101-del/openclaw-concierge/internal/models"
)

func newAffiliateFixture() (*AffiliateService, *memAffiliates) {
	store := newMemAffiliates()
	return NewAffiliateService(store, zap.NewNop()), store
}

func seedReferral(store *memAffiliates, affiliateID string, userID int64) *models.Referral {
	ref := &models.Referral{
		ID:             uuid.New().String(),
		AffiliateID:    affiliateID,
		ReferredUserID: &userID,
		Status:         models.ReferralStatusSignedUp,
	}
	store.referrals = append(store.referrals, ref)
	return ref
}

func TestCreateAccount_IsIdempotentPerUser(t *testing.T) {
	svc, _ := newAffiliateFixture()

	first, err := svc.CreateAccount(context.Background(), 42)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Code)
	assert.Equal(t, defaultCommissionRate, first.CommissionRate)

	second, err := svc.CreateAccount(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Code, second.Code)
}

func TestTrackClick_UnknownCodeIsSilentlyDropped(t *testing.T) {
	svc, store := newAffiliateFixture()

	err := svc.TrackClick(context.Background(), "nope", "x@example.com", "203.0.113.7")
	require.NoError(t, err)
	assert.Empty(t, store.referrals)
}

func TestTrackClick_RecordsReferral(t *testing.T) {
	svc, store := newAffiliateFixture()
	aff, err := svc.CreateAccount(context.Background(), 42)
	require.NoError(t, err)

	err = svc.TrackClick(context.Background(), aff.Code, "friend@example.com", "203.0.113.7")
	require.NoError(t, err)

	require.Len(t, store.referrals, 1)
	assert.Equal(t, aff.ID, store.referrals[0].AffiliateID)
	assert.Equal(t, models.ReferralStatusPending, store.referrals[0].Status)
}

func TestRecordConversion_WritesCommissionsOnce(t *testing.T) {
	svc, store := newAffiliateFixture()
	aff, err := svc.CreateAccount(context.Background(), 42)
	require.NoError(t, err)
	seedReferral(store, aff.ID, 77)

	records := []*models.BillingRecord{
		{ID: uuid.New().String(), UserID: 77, Type: models.BillingSetupFee, AmountCents: 25000},
		{ID: uuid.New().String(), UserID: 77, Type: models.BillingMonthlySubscription, AmountCents: 9900},
	}

	err = svc.RecordConversion(context.Background(), 77, "sub-1", records)
	require.NoError(t, err)

	// 30% of 25000 and of 9900.
	assert.ElementsMatch(t, []int64{7500, 2970}, store.increments)
	assert.Len(t, store.commissions, 2)

	updated, err := store.GetByID(context.Background(), aff.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10470), updated.TotalEarningsCents)
	assert.Equal(t, int64(10470), updated.PendingEarningsCents)

	// Replaying the same billing records adds nothing.
	err = svc.RecordConversion(context.Background(), 77, "sub-1", records)
	require.NoError(t, err)
	assert.Len(t, store.increments, 2)
	assert.Len(t, store.commissions, 2)

	assert.Equal(t, models.ReferralStatusSubscribed, store.referrals[0].Status)
}

func TestRecordConversion_NoReferralIsNoOp(t *testing.T) {
	svc, store := newAffiliateFixture()

	err := svc.RecordConversion(context.Background(), 77, "sub-1", []*models.BillingRecord{
		{ID: uuid.New().String(), Type: models.BillingSetupFee, AmountCents: 25000},
	})
	require.NoError(t, err)
	assert.Empty(t, store.commissions)
	assert.Empty(t, store.increments)
}

func TestStats_ComputesFunnel(t *testing.T) {
	svc, store := newAffiliateFixture()
	aff, err := svc.CreateAccount(context.Background(), 42)
	require.NoError(t, err)

	seedReferral(store, aff.ID, 1)
	subscribed := seedReferral(store, aff.ID, 2)
	subscribed.Status = models.ReferralStatusSubscribed
	pending := seedReferral(store, aff.ID, 3)
	pending.Status = models.ReferralStatusPending
	store.IncrementEarnings(context.Background(), aff.ID, 7500)

	stats, err := svc.Stats(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalReferrals)
	assert.Equal(t, 1, stats.SignedUpReferrals)
	assert.Equal(t, 1, stats.SubscribedReferrals)
	assert.InDelta(t, 33.33, stats.ConversionRate, 0.01)
	assert.Equal(t, int64(7500), stats.TotalEarningsCents)
	assert.Equal(t, int64(7500), stats.PendingEarningsCents)
}

func TestStats_NoAccount(t *testing.T) {
	svc, _ := newAffiliateFixture()

	_, err := svc.Stats(context.Background(), 42)
	assert.Error(t, err)
}
