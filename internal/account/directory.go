package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"letterdesk/internal/apperr"
	"letterdesk/internal/notify"
	"letterdesk/internal/rowstore"
	"letterdesk/internal/util"
	"letterdesk/pkg/logger"
	"letterdesk/pkg/metrics"
	"letterdesk/pkg/rbac"
)

const (
	timestampLayout  = "2006-01-02 15:04:05"
	resetCodeTTL     = 15 * time.Minute
	maxResetAttempts = 5
)

// errUnchanged aborts a Mutate that has nothing to write.
var errUnchanged = errors.New("account unchanged")

// Notifier delivers reset codes.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

type Options struct {
	Table       string
	Plans       Plans
	Pepper      string
	BcryptCost  int
	DefaultPlan string
	Location    *time.Location
	Notifier    Notifier
	Logger      *zap.Logger
}

// Directory reads accounts from the cached snapshot and writes them with
// conditional row updates.
type Directory struct {
	store       *rowstore.Client
	schema      rowstore.Schema
	plans       Plans
	pepper      string
	cost        int
	defaultPlan string
	loc         *time.Location
	notifier    Notifier
	validate    *validator.Validate
	logger      *zap.Logger
}

func NewDirectory(store *rowstore.Client, opts Options) *Directory {
	if opts.Table == "" {
		opts.Table = "Users"
	}
	if opts.Plans.limits == nil {
		opts.Plans = DefaultPlans()
	}
	if opts.DefaultPlan == "" {
		opts.DefaultPlan = opts.Plans.fallback
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Directory{
		store:       store,
		schema:      Schema(opts.Table),
		plans:       opts.Plans,
		pepper:      opts.Pepper,
		cost:        opts.BcryptCost,
		defaultPlan: strings.ToLower(opts.DefaultPlan),
		loc:         opts.Location,
		notifier:    opts.Notifier,
		validate:    validator.New(),
		logger:      opts.Logger,
	}
}

// Schema is the table layout the directory writes.
func (d *Directory) Schema() rowstore.Schema { return d.schema }

func (d *Directory) now() time.Time { return d.store.Now().In(d.loc) }

// Now is the current business time.
func (d *Directory) Now() time.Time { return d.now() }

func (d *Directory) table(ctx context.Context) (*rowstore.Table, error) {
	return d.store.Table(ctx, d.schema)
}

type credentials struct {
	Email  string `validate:"required,email"`
	Secret string `validate:"required,min=8,max=64"`
}

func (d *Directory) check(v any) error {
	err := d.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Invalid(strings.ToLower(fe.Field()), "failed "+fe.Tag())
	}
	return apperr.Invalid("", err.Error())
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Lookup finds email in the cached snapshot. It never forces a fresh read.
func (d *Directory) Lookup(ctx context.Context, email string) (*Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, apperr.Invalid("email", "required")
	}
	t, err := d.table(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	row, ok := snap.Find(ColEmail, email)
	if !ok {
		return nil, apperr.NotFound("account", email)
	}
	return fromRow(row), nil
}

// Create registers email with plan (default plan when empty).
func (d *Directory) Create(ctx context.Context, email, secret, plan string) (*Account, error) {
	email = normalizeEmail(email)
	if err := d.check(credentials{Email: email, Secret: secret}); err != nil {
		return nil, err
	}
	plan = strings.ToLower(strings.TrimSpace(plan))
	if plan == "" {
		plan = d.defaultPlan
	}
	if !d.plans.Known(plan) {
		return nil, apperr.Invalid("plan", fmt.Sprintf("unknown plan %q", plan))
	}

	hash, err := util.HashPassword(secret, d.pepper, d.cost)
	if err != nil {
		return nil, fmt.Errorf("hash credential: %w", err)
	}

	t, err := d.table(ctx)
	if err != nil {
		return nil, err
	}
	unlock, err := t.Lock(ctx, email)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Scan the key column so a stale snapshot cannot hide a duplicate.
	if _, err := t.Locate(ctx, email); err == nil {
		return nil, fmt.Errorf("account %s: %w", email, apperr.ErrAlreadyExists)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	now := d.now()
	acct := Rollover(Account{
		Email:          email,
		CredentialHash: hash,
		Plan:           plan,
		Active:         true,
		CreatedAt:      now.Format(timestampLayout),
		Role:           rbac.RoleUser,
	}, now)

	if err := t.Append(ctx, acct.record()); err != nil {
		return nil, err
	}
	d.logger.Info("account created", logger.Email(email), zap.String("plan", plan))
	return &acct, nil
}

// Authenticate checks secret against the stored hash. Any failure is an
// *apperr.AuthError; store failures are returned as they are.
func (d *Directory) Authenticate(ctx context.Context, email, secret string) (*Account, error) {
	acct, err := d.Lookup(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalidInput) {
			return nil, &apperr.AuthError{Reason: "unknown account"}
		}
		return nil, err
	}
	if !acct.Active {
		return nil, &apperr.AuthError{Reason: "inactive"}
	}
	if acct.CredentialHash == "" || !util.CheckPassword(secret, d.pepper, acct.CredentialHash) {
		return nil, &apperr.AuthError{Reason: "credential mismatch"}
	}

	rolled, err := d.rolloverOnLogin(ctx, acct)
	if err != nil {
		// Counters roll over lazily anyway; a failed write here is not fatal.
		d.logger.Warn("login rollover not persisted", logger.Email(acct.Email), zap.Error(err))
		return acct, nil
	}
	return rolled, nil
}

func (d *Directory) rolloverOnLogin(ctx context.Context, acct *Account) (*Account, error) {
	now := d.now()
	if r := Rollover(*acct, now); r == *acct {
		return acct, nil
	}
	return d.mutate(ctx, acct.Email, func(a *Account) error {
		r := Rollover(*a, now)
		if r == *a {
			return errUnchanged
		}
		*a = r
		return nil
	})
}

// Quota is the remaining allowance of acct now.
func (d *Directory) Quota(acct *Account) Quota {
	return QuotaOf(*acct, d.plans, d.now())
}

// CanGenerate is true when both remainders are positive or unlimited.
func (d *Directory) CanGenerate(acct *Account) bool {
	return d.Quota(acct).Allows()
}

// RecordGeneration spends one credit. The check and the increment run on a
// fresh copy of the row under a version check, so two sessions cannot both
// spend the last credit; the loser gets apperr.ErrQuotaExceeded.
func (d *Directory) RecordGeneration(ctx context.Context, acct *Account) (*Account, error) {
	now := d.now()
	updated, err := d.mutate(ctx, acct.Email, func(a *Account) error {
		r := Rollover(*a, now)
		if !QuotaOf(r, d.plans, now).Allows() {
			return apperr.ErrQuotaExceeded
		}
		r.DailyCount++
		r.MonthCount++
		*a = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	plan := updated.Plan
	if !d.plans.Known(plan) {
		plan = d.plans.fallback
	}
	metrics.IncrementGeneration(plan)
	return updated, nil
}

// RecordConsent stores the consent flag once.
func (d *Directory) RecordConsent(ctx context.Context, email string) (*Account, error) {
	stamp := d.now().Format(timestampLayout)
	return d.mutate(ctx, email, func(a *Account) error {
		if a.Consent {
			return errUnchanged
		}
		a.Consent = true
		a.ConsentAt = stamp
		return nil
	})
}

// HasConsent reads the flag from the cached snapshot.
func (d *Directory) HasConsent(ctx context.Context, email string) (bool, error) {
	acct, err := d.Lookup(ctx, email)
	if err != nil {
		return false, err
	}
	return acct.Consent, nil
}

// RequestReset stores a one-time code for email and sends it.
func (d *Directory) RequestReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := d.validate.Var(email, "required,email"); err != nil {
		return apperr.Invalid("email", "failed email")
	}

	code, err := sixDigitCode()
	if err != nil {
		return err
	}
	expires := d.store.Now().UTC().Add(resetCodeTTL).Format(time.RFC3339)

	if _, err := d.mutate(ctx, email, func(a *Account) error {
		a.ResetCode = code
		a.ResetExpires = expires
		a.ResetAttempts = 0
		return nil
	}); err != nil {
		return err
	}

	if d.notifier == nil {
		d.logger.Warn("no notifier for reset code", logger.Email(email))
		return nil
	}
	return d.notifier.Send(ctx, notify.Message{
		Channel: notify.ChannelEmail,
		To:      email,
		Topic:   notify.TopicPasswordReset,
		Data: map[string]string{
			"code":    code,
			"minutes": strconv.Itoa(int(resetCodeTTL / time.Minute)),
		},
	})
}

// ConfirmReset replaces the credential if code matches, has not expired and
// fewer than five wrong codes were tried. A wrong code counts an attempt.
func (d *Directory) ConfirmReset(ctx context.Context, email, code, newSecret string) error {
	email = normalizeEmail(email)
	if err := d.check(credentials{Email: email, Secret: newSecret}); err != nil {
		return err
	}
	hash, err := util.HashPassword(newSecret, d.pepper, d.cost)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}

	now := d.store.Now().UTC()
	code = strings.TrimSpace(code)
	var rejected error

	_, err = d.mutate(ctx, email, func(a *Account) error {
		rejected = nil
		expires, perr := time.Parse(time.RFC3339, a.ResetExpires)
		switch {
		case a.ResetCode == "" || perr != nil || now.After(expires):
			return apperr.Invalid("code", "expired, request a new code")
		case a.ResetAttempts >= maxResetAttempts:
			return apperr.Invalid("code", "too many attempts, request a new code")
		case code != a.ResetCode:
			a.ResetAttempts++
			rejected = apperr.Invalid("code", "incorrect")
			return nil
		}
		a.CredentialHash = hash
		a.ResetCode = ""
		a.ResetExpires = ""
		a.ResetAttempts = 0
		return nil
	})
	if err != nil {
		return err
	}
	return rejected
}

// AdminResetPassword sets a new credential without a code.
func (d *Directory) AdminResetPassword(ctx context.Context, email, newSecret string) error {
	email = normalizeEmail(email)
	if err := d.check(credentials{Email: email, Secret: newSecret}); err != nil {
		return err
	}
	hash, err := util.HashPassword(newSecret, d.pepper, d.cost)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}
	_, err = d.mutate(ctx, email, func(a *Account) error {
		a.CredentialHash = hash
		a.ResetCode = ""
		a.ResetExpires = ""
		a.ResetAttempts = 0
		return nil
	})
	if err == nil {
		d.logger.Info("credential reset by admin", logger.Email(email))
	}
	return err
}

// mutate applies fn to a fresh copy of the account row and writes the
// difference back conditionally. errUnchanged from fn returns the fresh
// account without writing.
func (d *Directory) mutate(ctx context.Context, email string, fn func(a *Account) error) (*Account, error) {
	t, err := d.table(ctx)
	if err != nil {
		return nil, err
	}
	var fresh *Account
	row, err := t.Mutate(ctx, normalizeEmail(email), func(rec rowstore.Record) error {
		a := fromRecord(rec)
		before := a.record()
		if err := fn(a); err != nil {
			fresh = a
			return err
		}
		for k, v := range a.record() {
			if before[k] != v {
				rec[k] = v
			}
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return fresh, nil
	}
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("account", normalizeEmail(email))
		}
		return nil, err
	}
	return fromRow(row), nil
}

func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate reset code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}
