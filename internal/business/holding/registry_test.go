package holding

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"agrivest/internal/business/errs"
	"agrivest/internal/models"
	"agrivest/internal/store"
	"agrivest/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, *clockwork.FakeClock, *models.Project, *store.UnitOfWork) {
	db := testutil.NewTestDB(t)
	project := testutil.SeedProject(t, db, "vineyard")
	uow := store.New(db, sql.LevelDefault)
	clock := clockwork.NewFakeClockAt(epoch)
	return NewRegistry(uow, clock), clock, project, uow
}

func at(d time.Duration) *time.Time {
	v := epoch.Add(d)
	return &v
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	reg, _, project, uow := newRegistry(t)

	b, err := reg.Issue(ctx, "H1", project.ID, 100, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 100, b.LiquidTokens)
	assert.True(t, b.Consistent())

	b, err = reg.Issue(ctx, "H1", project.ID, 40, &LockSpec{Type: models.LockTypePermanent, Reason: "founder"})
	require.NoError(t, err)
	assert.EqualValues(t, 140, b.TotalTokens)
	assert.EqualValues(t, 40, b.LockedTokens)
	assert.Equal(t, models.LockTypePermanent, b.LockType)
	assert.True(t, b.Consistent())

	var p models.Project
	require.NoError(t, uow.DB().First(&p, project.ID).Error)
	assert.EqualValues(t, 140, p.TotalTokenSupply)

	_, err = reg.Issue(ctx, "H1", project.ID, 0, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = reg.Issue(ctx, "", project.ID, 5, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = reg.Issue(ctx, "H1", 777, 5, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = reg.Issue(ctx, "H1", project.ID, 5, &LockSpec{Type: models.LockTypeTimeLocked})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestTransferLiquid(t *testing.T) {
	ctx := context.Background()
	reg, _, project, _ := newRegistry(t)

	_, err := reg.Issue(ctx, "H1", project.ID, 100, nil)
	require.NoError(t, err)
	_, err = reg.Lock(ctx, "H1", project.ID, 60, models.LockTypePermanent, nil, "")
	require.NoError(t, err)

	t.Run("moves liquid only", func(t *testing.T) {
		require.NoError(t, reg.TransferLiquid(ctx, "H1", project.ID, "H2", 30))

		h1, err := reg.Get(ctx, "H1", project.ID)
		require.NoError(t, err)
		h2, err := reg.Get(ctx, "H2", project.ID)
		require.NoError(t, err)

		assert.EqualValues(t, 10, h1.LiquidTokens)
		assert.EqualValues(t, 60, h1.LockedTokens)
		assert.EqualValues(t, 70, h1.TotalTokens)
		assert.EqualValues(t, 30, h2.LiquidTokens)
		assert.EqualValues(t, 100, h1.TotalTokens+h2.TotalTokens)
		assert.True(t, h1.Consistent())
		assert.True(t, h2.Consistent())
	})

	t.Run("cannot spend locked tokens", func(t *testing.T) {
		err := reg.TransferLiquid(ctx, "H1", project.ID, "H2", 11)
		assert.ErrorIs(t, err, errs.ErrInsufficientLiquidBalance)

		h1, err := reg.Get(ctx, "H1", project.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 10, h1.LiquidTokens)
	})

	t.Run("unknown source", func(t *testing.T) {
		err := reg.TransferLiquid(ctx, "ghost", project.ID, "H2", 1)
		assert.ErrorIs(t, err, errs.ErrInsufficientLiquidBalance)
		_, err = reg.Get(ctx, "ghost", project.ID)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("validation", func(t *testing.T) {
		assert.ErrorIs(t, reg.TransferLiquid(ctx, "H1", project.ID, "H1", 1), errs.ErrValidation)
		assert.ErrorIs(t, reg.TransferLiquid(ctx, "H1", project.ID, "H2", 0), errs.ErrValidation)
	})
}

func TestTransferConservesSupplyUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	reg, _, project, _ := newRegistry(t)

	holders := []string{"A", "B", "C", "D"}
	for _, h := range holders {
		_, err := reg.Issue(ctx, h, project.ID, 50, nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		from, to := holders[i%4], holders[(i+1)%4]
		wg.Add(1)
		go func() {
			defer wg.Done()
			// some of these may fail for lack of liquidity, none may break conservation
			_ = reg.TransferLiquid(ctx, from, project.ID, to, 7)
		}()
	}
	wg.Wait()

	balances, err := reg.ListByProject(ctx, project.ID)
	require.NoError(t, err)
	var total int64
	for _, b := range balances {
		assert.True(t, b.Consistent(), b.HolderID)
		assert.GreaterOrEqual(t, b.LiquidTokens, int64(0))
		total += b.TotalTokens
	}
	assert.EqualValues(t, 200, total)
}

func TestLockMerge(t *testing.T) {
	ctx := context.Background()
	reg, _, project, _ := newRegistry(t)

	_, err := reg.Issue(ctx, "H1", project.ID, 100, nil)
	require.NoError(t, err)

	b, err := reg.Lock(ctx, "H1", project.ID, 10, models.LockTypeTimeLocked, at(48*time.Hour), "vesting")
	require.NoError(t, err)
	assert.Equal(t, models.LockTypeTimeLocked, b.LockType)
	assert.True(t, at(48*time.Hour).Equal(*b.UnlockAt))

	// an earlier time lock keeps the later unlock time
	b, err = reg.Lock(ctx, "H1", project.ID, 10, models.LockTypeTimeLocked, at(24*time.Hour), "")
	require.NoError(t, err)
	assert.True(t, at(48*time.Hour).Equal(*b.UnlockAt))
	assert.Equal(t, "vesting", b.LockReason)

	// a later one extends it
	b, err = reg.Lock(ctx, "H1", project.ID, 10, models.LockTypeTimeLocked, at(72*time.Hour), "")
	require.NoError(t, err)
	assert.True(t, at(72*time.Hour).Equal(*b.UnlockAt))

	// permanent absorbs the time lock
	b, err = reg.Lock(ctx, "H1", project.ID, 10, models.LockTypePermanent, nil, "collateral")
	require.NoError(t, err)
	assert.Equal(t, models.LockTypePermanent, b.LockType)
	assert.Nil(t, b.UnlockAt)
	assert.EqualValues(t, 40, b.LockedTokens)

	// and stays permanent
	b, err = reg.Lock(ctx, "H1", project.ID, 10, models.LockTypeTimeLocked, at(time.Hour), "")
	require.NoError(t, err)
	assert.Equal(t, models.LockTypePermanent, b.LockType)
	assert.True(t, b.Consistent())

	_, err = reg.Lock(ctx, "H1", project.ID, 51, models.LockTypePermanent, nil, "")
	assert.ErrorIs(t, err, errs.ErrInsufficientLiquidBalance)
	_, err = reg.Lock(ctx, "H1", project.ID, 1, models.LockTypeNone, nil, "")
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = reg.Lock(ctx, "H1", project.ID, 1, models.LockTypeTimeLocked, at(-time.Hour), "")
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = reg.Lock(ctx, "H1", project.ID, 1, models.LockTypePermanent, at(time.Hour), "")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSweepUnlocks(t *testing.T) {
	ctx := context.Background()
	reg, clock, project, _ := newRegistry(t)

	_, err := reg.Issue(ctx, "H1", project.ID, 100, nil)
	require.NoError(t, err)
	_, err = reg.Issue(ctx, "H2", project.ID, 100, nil)
	require.NoError(t, err)
	_, err = reg.Lock(ctx, "H1", project.ID, 60, models.LockTypeTimeLocked, at(time.Hour), "")
	require.NoError(t, err)
	_, err = reg.Lock(ctx, "H2", project.ID, 60, models.LockTypePermanent, nil, "")
	require.NoError(t, err)

	n, err := reg.SweepUnlocks(ctx, clock.Now().Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Hour)
	n, err = reg.SweepUnlocks(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h1, err := reg.Get(ctx, "H1", project.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, h1.LiquidTokens)
	assert.Zero(t, h1.LockedTokens)
	assert.Equal(t, models.LockTypeNone, h1.LockType)
	assert.Nil(t, h1.UnlockAt)

	h2, err := reg.Get(ctx, "H2", project.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 60, h2.LockedTokens, "permanent locks never auto-unlock")

	n, err = reg.SweepUnlocks(ctx, clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	reg, clock, project, _ := newRegistry(t)

	_, err := reg.Issue(ctx, "H1", project.ID, 100, nil)
	require.NoError(t, err)
	_, err = reg.Issue(ctx, "H2", project.ID, 100, nil)
	require.NoError(t, err)
	_, err = reg.Lock(ctx, "H1", project.ID, 60, models.LockTypePermanent, nil, "")
	require.NoError(t, err)

	t.Run("locked tokens count", func(t *testing.T) {
		snap, err := reg.SnapshotAt(ctx, project.ID, clock.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 200, snap.TotalTokens)
		require.Len(t, snap.Holdings, 2)
		assert.Equal(t, Holding{HolderID: "H1", Tokens: 100}, snap.Holdings[0])
		assert.Equal(t, Holding{HolderID: "H2", Tokens: 100}, snap.Holdings[1])
	})

	t.Run("point in time", func(t *testing.T) {
		before := clock.Now()
		clock.Advance(time.Minute)
		require.NoError(t, reg.TransferLiquid(ctx, "H2", project.ID, "H3", 25))

		past, err := reg.SnapshotAt(ctx, project.ID, before)
		require.NoError(t, err)
		require.Len(t, past.Holdings, 2)
		assert.EqualValues(t, 100, past.Holdings[1].Tokens)

		now, err := reg.SnapshotAt(ctx, project.ID, clock.Now())
		require.NoError(t, err)
		require.Len(t, now.Holdings, 3)
		assert.EqualValues(t, 75, now.Holdings[1].Tokens)
		assert.EqualValues(t, 25, now.Holdings[2].Tokens)
		assert.EqualValues(t, 200, now.TotalTokens)
	})

	t.Run("current ignores a lagging clock", func(t *testing.T) {
		clock.Advance(time.Minute)
		require.NoError(t, reg.TransferLiquid(ctx, "H1", project.ID, "H4", 10))
		lagging := clock.Now().Add(-time.Hour)

		var current, replayed *Snapshot
		require.NoError(t, reg.uow.Do(ctx, func(tx *gorm.DB) error {
			var err error
			if current, err = reg.Current(tx, project.ID, lagging); err != nil {
				return err
			}
			replayed, err = reg.Snapshot(tx, project.ID, lagging)
			return err
		}))

		assert.Equal(t, lagging.UTC(), current.AsOf)
		assert.EqualValues(t, 200, current.TotalTokens)
		require.Len(t, current.Holdings, 4)
		assert.Equal(t, Holding{HolderID: "H1", Tokens: 90}, current.Holdings[0])
		assert.Equal(t, Holding{HolderID: "H4", Tokens: 10}, current.Holdings[3])

		// replaying to the lagging instant undoes the committed movements
		assert.NotEqual(t, current.Holdings, replayed.Holdings)
	})

	t.Run("empty project", func(t *testing.T) {
		snap, err := reg.SnapshotAt(ctx, 4040, clock.Now())
		require.NoError(t, err)
		assert.Empty(t, snap.Holdings)
		assert.Zero(t, snap.TotalTokens)
	})
}
