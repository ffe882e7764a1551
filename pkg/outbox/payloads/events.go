package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/pkg/enums"
)

// CreditDeductedEvent is emitted inside the debit transaction once the
// balance update and ledger append have both succeeded.
type CreditDeductedEvent struct {
	LedgerEntryID uuid.UUID          `json:"ledgerEntryId"`
	UserID        uuid.UUID          `json:"userId"`
	RequestID     string             `json:"requestId"`
	Credits       int64              `json:"credits"`
	BalanceAfter  int64              `json:"balanceAfter"`
	Reason        enums.LedgerReason `json:"reason"`
	VendorCost    decimal.Decimal    `json:"vendorCost"`
	ProviderID    string             `json:"providerId,omitempty"`
	ModelID       string             `json:"modelId,omitempty"`
}

// CreditGrantedEvent signals credits added to a balance, either by the
// monthly allowance job or by a manual admin adjustment.
type CreditGrantedEvent struct {
	LedgerEntryID uuid.UUID          `json:"ledgerEntryId"`
	UserID        uuid.UUID          `json:"userId"`
	RequestID     string             `json:"requestId"`
	Credits       int64              `json:"credits"`
	BalanceAfter  int64              `json:"balanceAfter"`
	Reason        enums.LedgerReason `json:"reason"`
	GrantedBy     *uuid.UUID         `json:"grantedBy,omitempty"`
	Note          string             `json:"note,omitempty"`
}

// CreditReversedEvent is emitted when a completed deduction is reversed.
// The aggregate is the reversal entry; the original stays in history.
type CreditReversedEvent struct {
	ReversalEntryID uuid.UUID `json:"reversalEntryId"`
	OriginalEntryID uuid.UUID `json:"originalEntryId"`
	UserID          uuid.UUID `json:"userId"`
	CreditsRestored int64     `json:"creditsRestored"`
	BalanceAfter    int64     `json:"balanceAfter"`
	Reason          string    `json:"reason"`
	ReversedBy      uuid.UUID `json:"reversedBy"`
}
