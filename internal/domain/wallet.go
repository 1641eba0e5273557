package domain

import "github.com/shopspring/decimal"

// CommissionSource tells where an effective commission came from.
type CommissionSource string

const (
	SourceGlobal   CommissionSource = "GLOBAL"
	SourceOverride CommissionSource = "OVERRIDE"
)

// GlobalSettings is the process-wide wallet configuration. Version is the
// record version of the stored settings; 0 means nothing has been saved yet.
type GlobalSettings struct {
	Currency          string          `json:"currency"`
	CommissionPercent decimal.Decimal `json:"commissionPercent"`
	ConvenienceFee    decimal.Decimal `json:"convenienceFee"`
	Version           int64           `json:"version"`
}

// PharmacyCommissionOverride replaces the global commission percent for a
// single pharmacy.
type PharmacyCommissionOverride struct {
	PharmacyID        uint64          `json:"pharmacyId"`
	CommissionPercent decimal.Decimal `json:"commissionPercent"`
	Version           int64           `json:"version"`
}

// EffectiveCommission is the resolved commission for a pharmacy. Version is
// the version of whichever record supplied Percent.
type EffectiveCommission struct {
	PharmacyID     uint64           `json:"pharmacyId"`
	Percent        decimal.Decimal  `json:"percent"`
	Source         CommissionSource `json:"source"`
	Version        int64            `json:"version"`
	Currency       string           `json:"currency"`
	ConvenienceFee decimal.Decimal  `json:"convenienceFee"`
}
