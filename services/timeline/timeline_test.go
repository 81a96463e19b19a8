package timeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mavuno/core/events"
	"mavuno/crypto"
)

func addr(label string) crypto.Address {
	return crypto.ModuleAddress(crypto.Address{}, "timeline-test/"+label)
}

func setupStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store, err := NewStore(db, func() time.Time { return now })
	require.NoError(t, err)
	return store, &now
}

func TestFormatFiat(t *testing.T) {
	require.Equal(t, "₦1,234.56", FormatFiat("NGN", big.NewInt(123_456)))
	require.Equal(t, "₵0.05", FormatFiat("cedi", big.NewInt(5)))
	require.Equal(t, "R100,000,000.00", FormatFiat("RAND", big.NewInt(10_000_000_000)))
	require.Equal(t, "₦0.00", FormatFiat("NGN", nil))
	require.Equal(t, "XYZ 1.00", FormatFiat("xyz", big.NewInt(100)))
}

func TestFormatNative(t *testing.T) {
	require.Equal(t, "12.5 HBAR", FormatNative(big.NewInt(1_250_000_000)))
	require.Equal(t, "1,000 HBAR", FormatNative(new(big.Int).Mul(big.NewInt(1_000), big.NewInt(100_000_000))))
}

func TestActivityFor(t *testing.T) {
	supplier, farmer, pledger := addr("supplier"), addr("farmer"), addr("pledger")

	posts := ActivityFor(events.LendingSupplied{Currency: "NGN", Supplier: supplier, Amount: big.NewInt(123_456)})
	require.Len(t, posts, 1)
	require.Equal(t, supplier.String(), posts[0].Account)
	require.Equal(t, "You supplied ₦1,234.56 to the NGN pool", posts[0].Content)
	require.Equal(t, events.TypeLendingSupplied, posts[0].EventType)

	posts = ActivityFor(events.LendingSupplied{Currency: "NGN", Supplier: supplier, OnBehalfOf: farmer, Amount: big.NewInt(100)})
	require.Equal(t, farmer.String(), posts[0].Account)

	posts = ActivityFor(events.LendingRepaid{Currency: "RAND", Payer: supplier, Farmer: farmer, Amount: big.NewInt(500)})
	require.Len(t, posts, 2)
	require.Equal(t, "You repaid R5.00 to the RAND pool", posts[0].Content)

	posts = ActivityFor(events.PledgeDeposited{Farmer: farmer, Pledger: pledger, Amount: big.NewInt(1_000_000_000)})
	require.Len(t, posts, 2)
	require.Equal(t, "You pledged 10 HBAR to a farmer", posts[0].Content)
	require.Equal(t, farmer.String(), posts[1].Account)

	require.Empty(t, ActivityFor(events.OracleRateUpdated{}))
}

func TestCreateUpdateAndList(t *testing.T) {
	store, now := setupStore(t)
	ctx := context.Background()
	farmer, other := addr("farmer"), addr("other")

	_, err := store.CreateUpdate(ctx, farmer, "   ", nil, "")
	require.ErrorIs(t, err, ErrInvalidPost)
	_, err = store.CreateUpdate(ctx, crypto.Address{}, "hello", nil, "")
	require.ErrorIs(t, err, ErrInvalidAccount)

	first, err := store.CreateUpdate(ctx, farmer, "Planted maize", []string{"https://img/1.jpg", " "}, "")
	require.NoError(t, err)
	require.Equal(t, []string{"https://img/1.jpg"}, first.Images)

	*now = now.Add(time.Hour)
	require.NoError(t, store.AppendActivity(ctx, ActivityFor(events.LendingBorrowed{Currency: "NGN", Farmer: farmer, Amount: big.NewInt(10_000)})))
	*now = now.Add(time.Hour)
	_, err = store.CreateUpdate(ctx, other, "Harvest is in", nil, "")
	require.NoError(t, err)

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "Harvest is in", all[0].Content)

	mine, err := store.List(ctx, Filter{Account: farmer.String()})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, PostActivity, mine[0].Type)
	require.Equal(t, "You borrowed ₦100.00 from the NGN pool", mine[0].Content)

	updates, err := store.List(ctx, Filter{Type: PostUpdate, Limit: 1})
	require.NoError(t, err)
	require.Len(t, updates, 1)

	loaded, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"https://img/1.jpg"}, loaded.Images)
}

func TestLikeIsOncePerAccount(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	post, err := store.CreateUpdate(ctx, addr("farmer"), "Irrigation done", nil, "")
	require.NoError(t, err)

	liked, err := store.Like(ctx, post.ID, addr("fan"))
	require.NoError(t, err)
	require.EqualValues(t, 1, liked.Likes)
	liked, err = store.Like(ctx, post.ID, addr("fan"))
	require.NoError(t, err)
	require.EqualValues(t, 1, liked.Likes)
	liked, err = store.Like(ctx, post.ID, addr("second-fan"))
	require.NoError(t, err)
	require.EqualValues(t, 2, liked.Likes)

	_, err = store.Like(ctx, uuid.New(), addr("fan"))
	require.True(t, errors.Is(err, ErrPostNotFound))
}

func TestRecorderDrainsQueue(t *testing.T) {
	store, _ := setupStore(t)
	rec := NewRecorder(store, nil, 4)
	farmer := addr("farmer")
	rec.Emit(events.FarmerRegistered{Farmer: farmer, Name: "Amina"})
	rec.Emit(events.OracleRateUpdated{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	posts, err := store.List(context.Background(), Filter{Account: farmer.String()})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "You joined Mavuno as a farmer", posts[0].Content)
}

func TestIsPostgresDSN(t *testing.T) {
	require.True(t, IsPostgresDSN("postgres://u:p@db/mavuno"))
	require.True(t, IsPostgresDSN(" PostgreSQL://db/mavuno"))
	require.False(t, IsPostgresDSN("file:timeline.db"))
}
