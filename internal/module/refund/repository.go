package refund

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository defines the interface for refund data access.
type Repository interface {
	// Refund operations
	Create(ctx context.Context, refund *Refund) error
	GetByReference(ctx context.Context, reference string) (*Refund, error)
	GetByReferenceWithHistory(ctx context.Context, reference string) (*Refund, error)
	Update(ctx context.Context, refund *Refund) error
	List(ctx context.Context, filter *Filter) ([]*Refund, error)
	ListByPayment(ctx context.Context, paymentReference string) ([]*Refund, error)

	// Ledger support
	SumActiveAmount(ctx context.Context, paymentReference string, feeID int64, excludeReference string) (decimal.Decimal, error)

	// History operations
	AppendHistory(ctx context.Context, entry *StatusHistory) error
	ListHistory(ctx context.Context, refundID uuid.UUID) ([]StatusHistory, error)
	CountHistory(ctx context.Context, refundID uuid.UUID) (int64, error)

	// Reason catalogue
	GetReason(ctx context.Context, code string) (*RefundReason, error)
	ListReasons(ctx context.Context) ([]RefundReason, error)
	GetRejectionReason(ctx context.Context, code string) (*RejectionReason, error)

	// WithTx returns a Repository bound to the given transaction.
	WithTx(tx *gorm.DB) Repository

	// Transaction runs fn inside a database transaction.
	Transaction(ctx context.Context, fn func(txRepo Repository) error) error
}

// Filter narrows refund listing queries.
type Filter struct {
	Status        RefundStatus
	CcdCaseNumber string
	Reference     string
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new refund repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, refund *Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) GetByReference(ctx context.Context, reference string) (*Refund, error) {
	var refund Refund
	err := r.db.WithContext(ctx).First(&refund, "reference = ?", reference).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &refund, nil
}

func (r *repository) GetByReferenceWithHistory(ctx context.Context, reference string) (*Refund, error) {
	var refund Refund
	err := r.db.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("date_created DESC")
		}).
		First(&refund, "reference = ?", reference).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &refund, nil
}

func (r *repository) Update(ctx context.Context, refund *Refund) error {
	return r.db.WithContext(ctx).Save(refund).Error
}

func (r *repository) List(ctx context.Context, filter *Filter) ([]*Refund, error) {
	query := r.db.WithContext(ctx).Model(&Refund{})
	if filter != nil {
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.CcdCaseNumber != "" {
			query = query.Where("ccd_case_number = ?", filter.CcdCaseNumber)
		}
		if filter.Reference != "" {
			query = query.Where("reference = ?", filter.Reference)
		}
	}

	var refunds []*Refund
	if err := query.Order("created_at DESC").Find(&refunds).Error; err != nil {
		return nil, err
	}
	return refunds, nil
}

func (r *repository) ListByPayment(ctx context.Context, paymentReference string) ([]*Refund, error) {
	var refunds []*Refund
	err := r.db.WithContext(ctx).
		Where("payment_reference = ?", paymentReference).
		Order("created_at DESC").
		Find(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

// SumActiveAmount sums the amounts of refunds for the given fee that still
// count against the fee's refundable balance. excludeReference, when
// non-empty, removes that refund's own amount from the sum (resubmit
// re-validates against everything but itself).
func (r *repository) SumActiveAmount(ctx context.Context, paymentReference string, feeID int64, excludeReference string) (decimal.Decimal, error) {
	query := r.db.WithContext(ctx).
		Model(&Refund{}).
		Where("payment_reference = ? AND fee_id = ?", paymentReference, feeID).
		Where("status NOT IN ?", VoidedStatuses)
	if excludeReference != "" {
		query = query.Where("reference <> ?", excludeReference)
	}

	var sum decimal.NullDecimal
	if err := query.Select("SUM(amount)").Scan(&sum).Error; err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *repository) AppendHistory(ctx context.Context, entry *StatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, refundID uuid.UUID) ([]StatusHistory, error) {
	var history []StatusHistory
	err := r.db.WithContext(ctx).
		Where("refund_id = ?", refundID).
		Order("date_created DESC").
		Find(&history).Error
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (r *repository) CountHistory(ctx context.Context, refundID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&StatusHistory{}).
		Where("refund_id = ?", refundID).
		Count(&count).Error
	return count, err
}

func (r *repository) GetReason(ctx context.Context, code string) (*RefundReason, error) {
	var reason RefundReason
	err := r.db.WithContext(ctx).First(&reason, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReasonNotFound
		}
		return nil, err
	}
	return &reason, nil
}

func (r *repository) ListReasons(ctx context.Context) ([]RefundReason, error) {
	var reasons []RefundReason
	if err := r.db.WithContext(ctx).Order("code").Find(&reasons).Error; err != nil {
		return nil, err
	}
	return reasons, nil
}

func (r *repository) GetRejectionReason(ctx context.Context, code string) (*RejectionReason, error) {
	var reason RejectionReason
	err := r.db.WithContext(ctx).First(&reason, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReasonNotFound
		}
		return nil, err
	}
	return &reason, nil
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Transaction(ctx context.Context, fn func(txRepo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}
