package reward

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/pkg/pagination"
)

func keys(items []LineItem) map[Key]bool {
	out := make(map[Key]bool, len(items))
	for i := range items {
		out[items[i].Key()] = true
	}
	return out
}

func TestLedger_EarnAndConvertScenario(t *testing.T) {
	f := newFixture(t)
	r := f.rule(ActivityUploadPrescription, "50", PointNoncashable, false)
	tx := f.tx(1, r, "50")
	conv := f.conv(1, PointNoncashable, PointCashable, "20", "1.0")

	l, err := f.svc.Reconciler().Ledger(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)

	require.Len(t, l.Earned, 2)
	require.Len(t, l.Consumed, 1)
	assert.Len(t, l.All, 3)

	earned := keys(l.Earned)
	assert.True(t, earned[Key{SourceTransaction, tx.ID, KindEarned}])
	assert.True(t, earned[Key{SourceConversion, conv.ID, KindEarned}])
	assert.True(t, keys(l.Consumed)[Key{SourceConversion, conv.ID, KindConsumed}])

	for _, item := range l.Earned {
		if item.Source == SourceConversion {
			assert.Equal(t, PointCashable, item.RewardType)
			assert.True(t, item.EarnedCashable.Equal(dec("20")))
		}
	}
	assert.True(t, l.Consumed[0].ConsumedNoncashable.Equal(dec("20")))

	assert.True(t, l.View.Noncashable.Net.Equal(dec("30")), "noncashable net %s", l.View.Noncashable.Net)
	assert.True(t, l.View.Cashable.Net.Equal(dec("20")), "cashable net %s", l.View.Cashable.Net)
	assert.True(t, l.View.Money.Net.IsZero())
	assert.True(t, l.View.TotalConverted.Equal(dec("20")))
	assert.Equal(t, 1, l.View.TransactionCount)
	assert.Equal(t, 1, l.View.ConversionCount)
}

func seedMixedLedger(f *fixture, userID int64) {
	earnNC := f.rule("EARN_NC", "5", PointNoncashable, false)
	earnC := f.rule("EARN_C", "3", PointCashable, false)
	spendNC := f.rule("SPEND_NC", "4", PointNoncashable, true)
	for range 4 {
		f.tx(userID, earnNC, "5")
	}
	f.tx(userID, earnC, "3")
	f.tx(userID, earnC, "3")
	f.tx(userID, spendNC, "-4")
	f.conv(userID, PointNoncashable, PointCashable, "6", "1.0")
	f.conv(userID, PointCashable, PointMoney, "4", "0.5")
	f.conv(userID, PointMoney, PointCashable, "1", "2")
}

func TestLedger_SubsetAndExclusivity(t *testing.T) {
	f := newFixture(t)
	seedMixedLedger(f, 1)

	l, err := f.svc.Reconciler().Ledger(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)

	all := keys(l.All)
	earned := keys(l.Earned)
	consumed := keys(l.Consumed)
	for k := range earned {
		assert.True(t, all[k], "earned item %v missing from all", k)
		assert.False(t, consumed[k], "item %v is both earned and consumed", k)
	}
	for k := range consumed {
		assert.True(t, all[k], "consumed item %v missing from all", k)
	}
	assert.Equal(t, len(all), len(earned)+len(consumed))

	// 7 transactions; NC->C gives two rows, C->Money and Money->C give one each
	assert.Len(t, l.All, 11)
}

func TestLedger_NetIdentityAgainstRawLogs(t *testing.T) {
	f := newFixture(t)
	seedMixedLedger(f, 1)

	view, err := f.svc.Reconciler().Summary(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)

	for _, pt := range pointTypes {
		net := decimal.Zero
		for _, tx := range f.store.txs {
			if tx.RewardType == pt {
				net = net.Add(tx.AmountChanged)
			}
		}
		for _, c := range f.store.convs {
			if c.ToType == pt {
				net = net.Add(c.ConvertedPoints)
			}
			if c.FromType == pt {
				net = net.Sub(c.Amount)
			}
		}

		p := view.Pool(pt)
		assert.True(t, p.Net.Equal(net), "%s: view %s, raw %s", pt, p.Net, net)
		identity := p.Earned.Sub(p.Consumed).Add(p.ConvertedIn).Sub(p.ConvertedOut)
		assert.True(t, p.Net.Equal(identity), "%s identity", pt)
	}

	assert.True(t, view.Noncashable.Net.Equal(dec("10")))
	assert.True(t, view.Cashable.Net.Equal(dec("10")))
	assert.True(t, view.Money.Net.Equal(dec("1")))
	assert.True(t, view.Noncashable.Consumed.Equal(dec("4")))
	assert.True(t, view.TotalConverted.Equal(dec("11")))
}

func TestLedger_Idempotent(t *testing.T) {
	f := newFixture(t)
	seedMixedLedger(f, 1)
	rec := f.svc.Reconciler()

	first, err := rec.Ledger(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)
	second, err := rec.Ledger(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)

	assert.Equal(t, first.View, second.View)
	assert.ElementsMatch(t, first.All, second.All)
	assert.ElementsMatch(t, first.Earned, second.Earned)
	assert.ElementsMatch(t, first.Consumed, second.Consumed)
}

func TestLedger_Empty(t *testing.T) {
	f := newFixture(t)

	l, err := f.svc.Reconciler().Ledger(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)
	assert.Empty(t, l.All)
	assert.Empty(t, l.Earned)
	assert.Empty(t, l.Consumed)
	assert.True(t, l.View.Noncashable.Net.IsZero())
	assert.True(t, l.View.TotalConverted.IsZero())
	assert.Nil(t, l.View.Badge)

	page, err := f.svc.Reconciler().History(context.Background(), HistoryQuery{Filter: Filter{UserID: 1}})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.TotalRecords)
	assert.Equal(t, 0, page.TotalPages)
}

func TestLedger_ClassificationFollowsCurrentRule(t *testing.T) {
	f := newFixture(t)
	r := f.rule("TOGGLE", "5", PointNoncashable, false)
	f.tx(1, r, "5")
	rec := f.svc.Reconciler()

	l, err := rec.Ledger(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)
	assert.Len(t, l.Earned, 1)
	assert.Empty(t, l.Consumed)

	r.IsDeductible = true
	require.NoError(t, mockRuleRepo{f.store}.Update(context.Background(), r))

	l, err = rec.Ledger(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)
	assert.Empty(t, l.Earned)
	require.Len(t, l.Consumed, 1)
	assert.Equal(t, KindConsumed, l.All[0].Kind)
}

func TestLedger_DanglingRuleCountsAsEarned(t *testing.T) {
	f := newFixture(t)
	r := f.rule("GONE", "5", PointNoncashable, true)
	f.tx(1, r, "-5")
	delete(f.store.rules, r.ID)

	l, err := f.svc.Reconciler().Ledger(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)
	require.Len(t, l.Earned, 1)
	assert.Empty(t, l.Consumed)
	assert.Empty(t, l.Earned[0].Title)
	assert.True(t, l.View.Noncashable.Earned.Equal(dec("-5")))
}

func TestLedger_Filters(t *testing.T) {
	f := newFixture(t)
	r := f.rule("EARN", "5", PointNoncashable, false)

	a := f.tx(1, r, "5")
	a.PatientID = ptr(int64(10))
	f.store.txs[a.ID] = *a
	b := f.tx(1, r, "7")
	b.PatientID = ptr(int64(11))
	f.store.txs[b.ID] = *b
	f.tx(2, r, "100")
	f.conv(1, PointNoncashable, PointCashable, "2", "1.0")

	rec := f.svc.Reconciler()

	view, err := rec.Summary(context.Background(), Filter{UserID: 1, PatientID: ptr(int64(10))})
	require.NoError(t, err)
	assert.Equal(t, 1, view.TransactionCount)
	// conversions carry no patient and are never patient-filtered
	assert.Equal(t, 1, view.ConversionCount)
	assert.True(t, view.Noncashable.Net.Equal(dec("3")))

	from := b.CreatedAt
	view, err = rec.Summary(context.Background(), Filter{UserID: 1, From: &from, To: &from})
	require.NoError(t, err)
	assert.Equal(t, 1, view.TransactionCount)
	assert.Equal(t, 0, view.ConversionCount)
	assert.True(t, view.Noncashable.Net.Equal(dec("7")))
}

func TestLedger_InvalidFilter(t *testing.T) {
	f := newFixture(t)
	rec := f.svc.Reconciler()
	now := time.Now()
	earlier := now.Add(-time.Hour)

	for name, filter := range map[string]Filter{
		"zero user":       {},
		"bad patient":     {UserID: 1, PatientID: ptr(int64(0))},
		"inverted window": {UserID: 1, From: &now, To: &earlier},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := rec.Summary(context.Background(), filter)
			assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(err))
		})
	}
}

func TestSummary_LatestBadge(t *testing.T) {
	f := newFixture(t)
	r := f.rule("EARN", "5", PointNoncashable, false)
	bronze := f.badge("Bronze", 1, "0")
	silver := f.badge("Silver", 2, "10")

	withBadge := func(b *Badge) {
		tx := f.tx(1, r, "5")
		tx.BadgeID = &b.ID
		f.store.txs[tx.ID] = *tx
	}
	withBadge(bronze)
	withBadge(silver)
	f.tx(1, r, "5")

	view, err := f.svc.Reconciler().Summary(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)
	require.NotNil(t, view.Badge)
	assert.Equal(t, "Silver", view.Badge.Name)

	delete(f.store.badges, silver.ID)
	view, err = f.svc.Reconciler().Summary(context.Background(), Filter{UserID: 1})
	require.NoError(t, err)
	assert.Nil(t, view.Badge)
}

func TestHistory_PageTwoOfTwentyFive(t *testing.T) {
	f := newFixture(t)
	r := f.rule("EARN", "1", PointNoncashable, false)
	var ids []int64
	for range 25 {
		ids = append(ids, f.tx(1, r, "1").ID)
	}

	page, err := f.svc.Reconciler().History(context.Background(), HistoryQuery{
		Filter: Filter{UserID: 1},
		Scope:  ScopeAll,
		Sort:   SortSpec{Key: SortCreatedAt},
		Page:   pagination.New(2, 10),
	})
	require.NoError(t, err)

	assert.Equal(t, 25, page.TotalRecords)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 10)
	for i, item := range page.Items {
		assert.Equal(t, ids[10+i], item.SourceID)
	}

	// default order is newest first
	page, err = f.svc.Reconciler().History(context.Background(), HistoryQuery{
		Filter: Filter{UserID: 1},
		Page:   pagination.New(2, 10),
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 10)
	assert.Equal(t, ids[14], page.Items[0].SourceID)
	assert.Equal(t, ids[5], page.Items[9].SourceID)
	assert.Equal(t, ScopeAll, page.Scope)
}

func TestHistory_Scopes(t *testing.T) {
	f := newFixture(t)
	seedMixedLedger(f, 1)
	rec := f.svc.Reconciler()

	for scope, want := range map[Scope]int{ScopeAll: 11, ScopeEarned: 8, ScopeConsumed: 3} {
		page, err := rec.History(context.Background(), HistoryQuery{
			Filter: Filter{UserID: 1},
			Scope:  scope,
			Page:   pagination.New(1, 100),
		})
		require.NoError(t, err)
		assert.Equal(t, want, page.TotalRecords, string(scope))
	}

	_, err := rec.History(context.Background(), HistoryQuery{Filter: Filter{UserID: 1}, Scope: "spent"})
	assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(err))
}
