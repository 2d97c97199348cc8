package app

import (
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hmcts/refunds-api/internal/module/refund"
)

// seedReasons loads the reason catalogues. Seeding is idempotent: existing
// rows are left untouched so operational edits survive restarts.
func seedReasons(db *gorm.DB) error {
	refundReasons := []refund.RefundReason{
		{Code: "RR001", Description: "Amended claim"},
		{Code: "RR002", Description: "Amended court"},
		{Code: "RR003", Description: "Case withdrawn"},
		{Code: "RR004", Description: "Duplicate payment", Aliases: pq.StringArray{"duplicate", "dup-payment"}},
		{Code: "RR005", Description: "Fee not due"},
		{Code: "RR006", Description: "Help with Fees awarded"},
		{Code: "RR007", Description: "System error caused overpayment"},
		{Code: "RR010", Description: "Application rejected"},
		{Code: "RR011", Description: "Discontinued proceedings"},
		{Code: "RR012", Description: "Other", RequiresReason: true, Aliases: pq.StringArray{"other"}},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&refundReasons).Error; err != nil {
		return err
	}

	rejectionReasons := []refund.RejectionReason{
		{Code: "RE001", Name: "No associated payment"},
		{Code: "RE002", Name: "Insufficient information to approve"},
		{Code: "RE003", Name: "Duplicate refund request"},
		{Code: "RE004", Name: "Case details not clear"},
		{Code: "RE005", Name: "Other", RequiresReason: true},
		{Code: refund.RejectionReasonCardFailure, Name: "Unable to apply refund to Card, refund processed via cheque"},
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rejectionReasons).Error
}
