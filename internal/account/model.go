// Package account is the account directory: identities, credentials, plans
// and the authoritative generation quota, stored as rows of one table.
package account

import (
	"strconv"
	"strings"

	"letterdesk/internal/rowstore"
)

// Column names of the accounts table.
const (
	ColEmail          = "email"
	ColCredentialHash = "credential_hash"
	ColPlan           = "plan"
	ColActive         = "active"
	ColCreatedAt      = "created_at"
	ColDailyCount     = "daily_count"
	ColDailyDate      = "daily_date"
	ColMonthCount     = "month_count"
	ColMonthStamp     = "month_yyyymm"
	ColRenewalDate    = "renewal_date"
	ColResetCode      = "reset_code"
	ColResetExpires   = "reset_expires"
	ColResetAttempts  = "reset_attempts"
	ColConsent        = "consent"
	ColConsentAt      = "consent_at"
	ColRole           = "role"
)

// Schema returns the accounts table layout under name.
func Schema(name string) rowstore.Schema {
	return rowstore.Schema{
		Name:    name,
		Version: 2,
		Columns: []string{
			ColEmail, ColCredentialHash, ColPlan, ColActive, ColCreatedAt,
			ColDailyCount, ColDailyDate, ColMonthCount, ColMonthStamp, ColRenewalDate,
			ColResetCode, ColResetExpires, ColResetAttempts,
			ColConsent, ColConsentAt, ColRole,
		},
		Aliases: map[string][]string{
			ColCredentialHash: {"password_hash", "Password Hash", "password"},
			ColCreatedAt:      {"created_at_utc"},
		},
	}
}

type Account struct {
	Email          string
	CredentialHash string
	Plan           string
	Active         bool
	CreatedAt      string
	DailyCount     int
	DailyDate      string
	MonthCount     int
	MonthStamp     string
	RenewalDate    string
	ResetCode      string
	ResetExpires   string
	ResetAttempts  int
	Consent        bool
	ConsentAt      string
	Role           string

	// Row is the remote row number, 0 when unknown.
	Row int
}

func fromRow(row rowstore.Row) *Account {
	a := fromRecord(row.Record)
	a.Row = row.Number
	return a
}

func fromRecord(rec rowstore.Record) *Account {
	return &Account{
		Email:          strings.TrimSpace(rec.Get(ColEmail)),
		CredentialHash: rec.Get(ColCredentialHash),
		Plan:           strings.ToLower(strings.TrimSpace(rec.Get(ColPlan))),
		Active:         truthy(rec.Get(ColActive)),
		CreatedAt:      rec.Get(ColCreatedAt),
		DailyCount:     atoi(rec.Get(ColDailyCount)),
		DailyDate:      strings.TrimSpace(rec.Get(ColDailyDate)),
		MonthCount:     atoi(rec.Get(ColMonthCount)),
		MonthStamp:     strings.TrimSpace(rec.Get(ColMonthStamp)),
		RenewalDate:    rec.Get(ColRenewalDate),
		ResetCode:      strings.TrimSpace(rec.Get(ColResetCode)),
		ResetExpires:   strings.TrimSpace(rec.Get(ColResetExpires)),
		ResetAttempts:  atoi(rec.Get(ColResetAttempts)),
		Consent:        truthy(rec.Get(ColConsent)),
		ConsentAt:      rec.Get(ColConsentAt),
		Role:           strings.ToLower(strings.TrimSpace(rec.Get(ColRole))),
	}
}

// counters is the part of the record RecordGeneration rewrites.
func (a *Account) counters() rowstore.Record {
	return rowstore.Record{
		ColDailyCount: strconv.Itoa(a.DailyCount),
		ColDailyDate:  a.DailyDate,
		ColMonthCount: strconv.Itoa(a.MonthCount),
		ColMonthStamp: a.MonthStamp,
	}
}

func (a *Account) record() rowstore.Record {
	rec := a.counters()
	rec[ColEmail] = a.Email
	rec[ColCredentialHash] = a.CredentialHash
	rec[ColPlan] = a.Plan
	rec[ColActive] = boolCell(a.Active)
	rec[ColCreatedAt] = a.CreatedAt
	rec[ColRenewalDate] = a.RenewalDate
	rec[ColResetCode] = a.ResetCode
	rec[ColResetExpires] = a.ResetExpires
	rec[ColResetAttempts] = strconv.Itoa(a.ResetAttempts)
	rec[ColConsent] = boolCell(a.Consent)
	rec[ColConsentAt] = a.ConsentAt
	rec[ColRole] = a.Role
	return rec
}

func truthy(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE", "1", "YES":
		return true
	}
	return false
}

func boolCell(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
