package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/store"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DialectSQLite, filepath.Join(t.TempDir(), "gotenant.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMock(t *testing.T, dialect string) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, dialect), mock
}

func TestRebind(t *testing.T) {
	pg := New(nil, DialectPostgres)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2,$3)", pg.rebind("SELECT a FROM t WHERE x = ? AND y IN (?,?)"))
	lite := New(nil, DialectSQLite)
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	assert.Error(t, err)
}

func TestIncrementUsageIsOneStatement(t *testing.T) {
	s, mock := newMock(t, DialectPostgres)
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE usage_records SET quantity = quantity + $1 WHERE account_id = $2 AND reported = $3 AND period_end IS NULL`,
	)).WithArgs(int64(3), "a1", false).WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.IncrementUsage(context.Background(), "a1", 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniqueViolationMapsToDuplicate(t *testing.T) {
	s, mock := newMock(t, DialectPostgres)
	mock.ExpectExec("INSERT INTO api_keys").WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateKey(context.Background(), store.APIKey{ID: "k1", AccountID: "a1", Key: "key-x"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverErrorMapsToUnavailable(t *testing.T) {
	s, mock := newMock(t, DialectSQLite)
	mock.ExpectQuery("SELECT .* FROM accounts WHERE id = ?").WillReturnError(errors.New("connection reset"))

	_, err := s.GetAccount(context.Background(), "a1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateFailure(t *testing.T) {
	s, mock := newMock(t, DialectSQLite)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS accounts").WillReturnError(errors.New("disk full"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate")
}

func TestAccountsAndUsers(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, store.Account{ID: "a1", Name: "Acme", Active: true, CreatedAt: time.Now()}))
	assert.ErrorIs(t, s.CreateAccount(ctx, store.Account{ID: "a1", CreatedAt: time.Now()}), store.ErrDuplicate)

	cus := "cus_1"
	require.NoError(t, s.UpdateAccount(ctx, "a1", store.AccountUpdate{StripeCustomerID: &cus}))
	a, err := s.GetAccountByCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", a.Name)
	assert.True(t, a.Active)
	assert.ErrorIs(t, s.UpdateAccount(ctx, "missing", store.AccountUpdate{StripeCustomerID: &cus}), store.ErrNotFound)

	require.NoError(t, s.CreateUser(ctx, store.User{ID: "u1", Email: "Ann@Example.com", CreatedAt: time.Now()}))
	assert.ErrorIs(t, s.CreateUser(ctx, store.User{ID: "u2", Email: "ann@example.com", CreatedAt: time.Now()}), store.ErrDuplicate)

	require.NoError(t, s.UpdateUser(ctx, "u1", store.UserUpdate{SocialProvider: "google", SocialID: "g-1"}))
	u, err := s.GetUserBySocial(ctx, "google", "g-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "g-1", u.SocialIDs["google"])

	yes := true
	require.NoError(t, s.UpdateUser(ctx, "u1", store.UserUpdate{Verified: &yes}))
	u, err = s.GetUserByEmail(ctx, "ANN@example.com")
	require.NoError(t, err)
	assert.True(t, u.Verified)

	require.NoError(t, s.AddMember(ctx, store.Membership{UserID: "u1", AccountID: "a1", Permission: permission.Owner}))
	require.NoError(t, s.DeleteAccount(ctx, "a1"))
	ms, err := s.ListMemberships(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ms)

	require.NoError(t, s.DeleteUser(ctx, "u1"))
	_, err = s.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBackupCodeCompareAndClear(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, store.User{ID: "u1", Email: "a@b.c", BackupCodeHash: "h1", CreatedAt: time.Now()}))

	ok, err := s.ConsumeBackupCode(ctx, "u1", "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeBackupCode(ctx, "u1", "h1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokensAndLogins(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, s.SaveToken(ctx, store.Token{ID: id, UserID: "u1", Provider: "app", IssuedAt: now, ExpiresAt: now.Add(time.Hour), Active: true}))
	}
	n, err := s.RevokeTokens(ctx, store.TokenSelector{UserID: "u1", ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.RevokeTokens(ctx, store.TokenSelector{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	tok, err := s.GetToken(ctx, "u1", "t2")
	require.NoError(t, err)
	assert.False(t, tok.Active)

	for i, id := range []string{"l1", "l2", "l3"} {
		require.NoError(t, s.RecordLogin(ctx, store.LoginEvent{ID: id, UserID: "u1", CreatedAt: now.Add(time.Duration(i) * time.Second)}))
	}
	logins, err := s.RecentLogins(ctx, "u1", "l3", 5)
	require.NoError(t, err)
	require.Len(t, logins, 2)
	assert.Equal(t, "l2", logins[0].ID)
}

func TestUsageLifecycle(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, store.Account{ID: "a1", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", CreatedAt: time.Now()}))

	ok, err := s.IncrementUsage(ctx, "a1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := s.OpenUsage(ctx, "a1")
	require.NoError(t, err)
	again, err := s.OpenUsage(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)

	ok, err = s.IncrementUsage(ctx, "a1", 4)
	require.NoError(t, err)
	assert.True(t, ok)

	unreported, err := s.UnreportedUsage(ctx)
	require.NoError(t, err)
	require.Len(t, unreported, 1)
	assert.Equal(t, int64(4), unreported[0].Quantity)
	assert.Equal(t, "sub_1", unreported[0].StripeSubscriptionID)

	n, err := s.MarkUsageReported(ctx, []string{rec.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "an open record cannot be marked reported")

	closed, err := s.CloseUsage(ctx, "a1", false)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, closed.ID)
	assert.Equal(t, int64(4), closed.Quantity)
	require.NotNil(t, closed.PeriodEnd)
	assert.False(t, closed.Reported)
	_, err = s.CloseUsage(ctx, "a1", false)
	assert.ErrorIs(t, err, store.ErrNotFound)

	ok, err = s.IncrementUsage(ctx, "a1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	unreported, err = s.UnreportedUsage(ctx)
	require.NoError(t, err)
	require.Len(t, unreported, 1, "a closed record waits for its report")

	n, err = s.MarkUsageReported(ctx, []string{rec.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.MarkUsageReported(ctx, []string{rec.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.OpenUsage(ctx, "a1")
	require.NoError(t, err)
	total, err := s.UsageTotal(ctx, "a1", rec.PeriodStart, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestCloseUsageReopensInOneStep(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	first, err := s.OpenUsage(ctx, "a1")
	require.NoError(t, err)
	_, err = s.IncrementUsage(ctx, "a1", 3)
	require.NoError(t, err)

	closed, err := s.CloseUsage(ctx, "a1", true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, closed.ID)
	assert.Equal(t, int64(3), closed.Quantity)

	ok, err := s.IncrementUsage(ctx, "a1", 2)
	require.NoError(t, err)
	assert.True(t, ok, "the next period takes usage straight away")

	cur, err := s.CurrentUsage(ctx, "a1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, cur.ID)
	assert.Equal(t, int64(2), cur.Quantity)
}

func TestIncrementUsageConcurrent(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	_, err := s.OpenUsage(ctx, "a1")
	require.NoError(t, err)

	const workers, each = 4, 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				_, _ = s.IncrementUsage(ctx, "a1", 1)
			}
		}()
	}
	wg.Wait()

	cur, err := s.CurrentUsage(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*each), cur.Quantity)
}

func TestKeysAndNotifications(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateKey(ctx, store.APIKey{ID: "k1", AccountID: "a1", Key: "key-1", Scopes: []string{"read", "write"}, Active: true, CreatedAt: time.Now()}))
	k, err := s.GetKeyBySecret(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, k.Scopes)
	require.NoError(t, s.SetKeyActive(ctx, "a1", "k1", false))
	keys, err := s.ListKeys(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].Active)

	require.NoError(t, s.SaveNotificationSettings(ctx, []store.NotificationSetting{{UserID: "u1", AccountID: "a1", Name: "new_signin", Active: true}}))
	require.NoError(t, s.SaveNotificationSettings(ctx, []store.NotificationSetting{{UserID: "u1", AccountID: "a1", Name: "new_signin", Active: false}}))
	on, err := s.NotificationEnabled(ctx, "u1", "a1", "new_signin")
	require.NoError(t, err)
	assert.False(t, on)
}
