package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"letterdesk/internal/apperr"
	"letterdesk/internal/notify"
	"letterdesk/internal/rowstore"
	"letterdesk/pkg/backoff"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type outbox struct {
	msgs []notify.Message
}

func (o *outbox) Send(_ context.Context, msg notify.Message) error {
	o.msgs = append(o.msgs, msg)
	return nil
}

type fixture struct {
	dir     *Directory
	backend *rowstore.MemoryBackend
	store   *rowstore.Client
	clock   *clock
	outbox  *outbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	c := &clock{t: time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)}
	backend := rowstore.NewMemoryBackend()
	exec := backoff.New(backoff.DefaultConfig(), zap.NewNop()).WithSleep(func(context.Context, time.Duration) error { return nil })
	store := rowstore.NewClient(rowstore.Options{
		Backend:  backend,
		Executor: exec,
		Cache:    rowstore.NewSnapshotCache(3*time.Minute, nil, c.Now),
		Now:      c.Now,
	})
	out := &outbox{}
	dir := NewDirectory(store, Options{
		Plans:      DefaultPlans(),
		Pepper:     "pepper",
		BcryptCost: bcrypt.MinCost,
		Location:   ny,
		Notifier:   out,
	})
	return &fixture{dir: dir, backend: backend, store: store, clock: c, outbox: out}
}

func (f *fixture) signup(t *testing.T, email, plan string) *Account {
	t.Helper()
	acct, err := f.dir.Create(context.Background(), email, "correct-horse", plan)
	require.NoError(t, err)
	return acct
}

func TestCreateWritesZeroedCountersAndStamps(t *testing.T) {
	f := newFixture(t)
	acct := f.signup(t, "  A@X.com ", "")

	assert.Equal(t, "a@x.com", acct.Email)
	assert.Equal(t, "individual", acct.Plan)
	assert.True(t, acct.Active)
	assert.Equal(t, "user", acct.Role)
	assert.Equal(t, "2025-06-10", acct.DailyDate)
	assert.Equal(t, "202506", acct.MonthStamp)

	rows := f.backend.Rows("Users")
	require.Len(t, rows, 2)
	rec := resolve(t, rows)
	assert.Equal(t, "0", rec[ColDailyCount])
	assert.Equal(t, "0", rec[ColMonthCount])
	assert.Equal(t, "TRUE", rec[ColActive])
	assert.NotEqual(t, "correct-horse", rec[ColCredentialHash])
}

func resolve(t *testing.T, rows [][]string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for i, h := range rows[0] {
		if i < len(rows[1]) {
			out[h] = rows[1][i]
		}
	}
	return out
}

func TestCreateRejectsDuplicatesCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "a@x.com", "pro")

	_, err := f.dir.Create(context.Background(), "A@X.COM", "another-secret", "pro")
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
	assert.Len(t, f.backend.Rows("Users"), 2)
}

func TestCreateValidatesBeforeAnyRemoteCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dir.Create(ctx, "not-an-email", "long-enough", "")
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)

	_, err = f.dir.Create(ctx, "a@x.com", "short", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.dir.Create(ctx, "a@x.com", "long-enough", "platinum")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	assert.Equal(t, 0, f.backend.Calls("TableExists"))
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")

	acct, err := f.dir.Authenticate(ctx, "A@x.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", acct.Email)

	_, err = f.dir.Authenticate(ctx, "a@x.com", "wrong-horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.dir.Authenticate(ctx, "nobody@x.com", "correct-horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestAuthenticateRejectsInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")

	table, err := f.store.Table(ctx, f.dir.Schema())
	require.NoError(t, err)
	_, err = table.Mutate(ctx, "a@x.com", func(rec rowstore.Record) error {
		rec[ColActive] = "FALSE"
		return nil
	})
	require.NoError(t, err)

	_, err = f.dir.Authenticate(ctx, "a@x.com", "correct-horse")
	var aerr *apperr.AuthError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "inactive", aerr.Reason)
}

func TestAuthenticatePassesStoreErrorsThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")

	quota := apperr.RateLimited(errors.New("429"))
	f.backend.FailNext("ReadAll", quota, quota, quota, quota, quota)

	_, err := f.dir.Authenticate(ctx, "a@x.com", "correct-horse")
	assert.True(t, apperr.IsRateLimited(err))
	assert.False(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestLookupUsesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")

	for i := 0; i < 5; i++ {
		_, err := f.dir.Lookup(ctx, "a@x.com")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.backend.Calls("ReadAll"))

	_, err := f.dir.Lookup(ctx, "b@x.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIndividualPlanDailyScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.signup(t, "a@x.com", "individual")

	q := f.dir.Quota(acct)
	assert.Equal(t, Quota{DailyRemaining: 1, MonthlyRemaining: 15, DailyLimit: 1, MonthlyLimit: 15}, q)
	require.True(t, f.dir.CanGenerate(acct))

	acct, err := f.dir.RecordGeneration(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.DailyCount)
	assert.Equal(t, 0, f.dir.Quota(acct).DailyRemaining)
	assert.False(t, f.dir.CanGenerate(acct))

	_, err = f.dir.RecordGeneration(ctx, acct)
	assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)

	f.clock.Advance(24 * time.Hour)
	assert.True(t, f.dir.CanGenerate(acct))
	assert.Equal(t, 1, f.dir.Quota(acct).DailyRemaining)
	assert.Equal(t, 14, f.dir.Quota(acct).MonthlyRemaining)
}

func TestRecordGenerationChecksFreshRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.signup(t, "a@x.com", "individual")

	// Two sessions hold the same stale copy with one credit left.
	first, second := *acct, *acct
	_, err := f.dir.RecordGeneration(ctx, &first)
	require.NoError(t, err)

	_, err = f.dir.RecordGeneration(ctx, &second)
	assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)

	fresh, err := f.dir.Lookup(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.DailyCount)
	assert.Equal(t, 1, fresh.MonthCount)
}

func TestConcurrentLastCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.signup(t, "a@x.com", "individual")

	const sessions = 4
	var wg sync.WaitGroup
	errs := make([]error, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cp := *acct
			_, errs[i] = f.dir.RecordGeneration(ctx, &cp)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)
	}
	assert.Equal(t, 1, won)

	fresh, err := f.dir.Lookup(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.DailyCount)
}

func TestRolloverUsesBusinessTimezone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.signup(t, "a@x.com", "individual")
	acct, err := f.dir.RecordGeneration(ctx, acct)
	require.NoError(t, err)

	// 03:30 UTC next day is still the same day in New York.
	f.clock.t = time.Date(2025, 6, 11, 3, 30, 0, 0, time.UTC)
	assert.False(t, f.dir.CanGenerate(acct))

	f.clock.t = time.Date(2025, 6, 11, 4, 30, 0, 0, time.UTC)
	assert.True(t, f.dir.CanGenerate(acct))
}

func TestAuthenticatePersistsRollover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.signup(t, "a@x.com", "individual")
	_, err := f.dir.RecordGeneration(ctx, acct)
	require.NoError(t, err)

	f.clock.Advance(40 * 24 * time.Hour)
	acct, err = f.dir.Authenticate(ctx, "a@x.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.DailyCount)
	assert.Equal(t, 0, acct.MonthCount)
	assert.Equal(t, "2025-07-20", acct.DailyDate)
	assert.Equal(t, "202507", acct.MonthStamp)

	writes := f.backend.Calls("WriteRow")
	_, err = f.dir.Authenticate(ctx, "a@x.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, writes, f.backend.Calls("WriteRow"))
}

func TestUnlimitedPlan(t *testing.T) {
	plans := NewPlans(map[string]Limits{
		"individual": {Daily: 1, Monthly: 15},
		"agency":     {Daily: Unlimited, Monthly: Unlimited},
	}, "individual")
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	acct := Account{Plan: "agency", DailyCount: 500, DailyDate: "2025-06-10", MonthCount: 9000, MonthStamp: "202506"}

	q := QuotaOf(acct, plans, now)
	assert.Equal(t, Unlimited, q.DailyRemaining)
	assert.Equal(t, Unlimited, q.MonthlyRemaining)
	assert.True(t, q.Allows())
}

func TestUnknownPlanFallsBack(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	q := QuotaOf(Account{Plan: "legacy-gold"}, DefaultPlans(), now)
	assert.Equal(t, 1, q.DailyLimit)
	assert.Equal(t, 15, q.MonthlyLimit)
}

func TestRolloverBoundsAndIdempotence(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	plans := DefaultPlans()
	cases := []Account{
		{Plan: "individual", DailyCount: 7, DailyDate: "2025-06-10", MonthCount: 40, MonthStamp: "202506"},
		{Plan: "pro", DailyCount: 3, DailyDate: "2025-06-09", MonthCount: 3, MonthStamp: "202505"},
		{Plan: "", DailyCount: 0, DailyDate: "", MonthCount: 0, MonthStamp: ""},
	}
	for _, a := range cases {
		once := Rollover(a, now)
		assert.Equal(t, once, Rollover(once, now))

		q := QuotaOf(a, plans, now)
		assert.GreaterOrEqual(t, q.DailyRemaining, 0)
		assert.LessOrEqual(t, q.DailyRemaining, q.DailyLimit)
		assert.GreaterOrEqual(t, q.MonthlyRemaining, 0)
		assert.LessOrEqual(t, q.MonthlyRemaining, q.MonthlyLimit)
	}
}

func TestConsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")

	ok, err := f.dir.HasConsent(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, ok)

	acct, err := f.dir.RecordConsent(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, acct.Consent)
	assert.NotEmpty(t, acct.ConsentAt)

	writes := f.backend.Calls("WriteRow")
	_, err = f.dir.RecordConsent(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, writes, f.backend.Calls("WriteRow"))

	ok, err = f.dir.HasConsent(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")

	require.NoError(t, f.dir.RequestReset(ctx, "a@x.com"))
	require.Len(t, f.outbox.msgs, 1)
	msg := f.outbox.msgs[0]
	assert.Equal(t, notify.TopicPasswordReset, msg.Topic)
	assert.Equal(t, "a@x.com", msg.To)
	code := msg.Data["code"]
	assert.Len(t, code, 6)

	// Codes are 100000-999999.
	err := f.dir.ConfirmReset(ctx, "a@x.com", "000000", "brand-new-secret")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	require.NoError(t, f.dir.ConfirmReset(ctx, "a@x.com", code, "brand-new-secret"))

	_, err = f.dir.Authenticate(ctx, "a@x.com", "brand-new-secret")
	require.NoError(t, err)
	_, err = f.dir.Authenticate(ctx, "a@x.com", "correct-horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	// The code is single use.
	err = f.dir.ConfirmReset(ctx, "a@x.com", code, "another-secret")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestPasswordResetExpiresAndLocksOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")

	require.NoError(t, f.dir.RequestReset(ctx, "a@x.com"))
	code := f.outbox.msgs[0].Data["code"]
	wrong := "999999"
	if code == wrong {
		wrong = "100000"
	}

	for i := 0; i < maxResetAttempts; i++ {
		err := f.dir.ConfirmReset(ctx, "a@x.com", wrong, "brand-new-secret")
		var verr *apperr.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "incorrect", verr.Reason)
	}
	err := f.dir.ConfirmReset(ctx, "a@x.com", code, "brand-new-secret")
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "too many attempts")

	require.NoError(t, f.dir.RequestReset(ctx, "a@x.com"))
	code = f.outbox.msgs[1].Data["code"]
	f.clock.Advance(16 * time.Minute)
	err = f.dir.ConfirmReset(ctx, "a@x.com", code, "brand-new-secret")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "expired")
}

func TestRequestResetUnknownAccount(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "a@x.com", "")
	err := f.dir.RequestReset(context.Background(), "b@x.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.outbox.msgs)
}

func TestAdminResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a@x.com", "")

	require.NoError(t, f.dir.AdminResetPassword(ctx, "a@x.com", "set-by-admin"))
	_, err := f.dir.Authenticate(ctx, "a@x.com", "set-by-admin")
	require.NoError(t, err)

	assert.ErrorIs(t, f.dir.AdminResetPassword(ctx, "b@x.com", "set-by-admin"), apperr.ErrNotFound)
}

func TestLegacyHeaderSpelling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("old-secret-1"+"pepper"), bcrypt.MinCost)
	require.NoError(t, err)
	f.backend.Seed("Users",
		[]string{"email", "password_hash", "plan", "active", "created_at", "daily_count", "daily_date", "month_count", "month_yyyymm"},
		[]string{"old@x.com", string(hash), "pro", "TRUE", "2024-01-01 00:00:00", "0", "", "0", ""},
	)

	acct, err := f.dir.Authenticate(ctx, "old@x.com", "old-secret-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", acct.Plan)
	assert.Equal(t, 15, f.dir.Quota(acct).DailyRemaining)
}
