package refund

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hmcts/refunds-api/internal/client/notify"
	"github.com/hmcts/refunds-api/internal/client/payments"
	"github.com/hmcts/refunds-api/internal/client/reconciliation"
	"github.com/hmcts/refunds-api/internal/shared/events"
	"github.com/hmcts/refunds-api/internal/shared/metrics"
)

// testMetrics is shared across the package; prometheus collectors register
// globally and must only be created once.
var testMetrics = metrics.New("refunds_test")

func testBus() *events.Bus {
	return events.NewBus(zap.NewNop())
}

// --- In-memory repository ---

// fakeRepo is an in-memory Repository with transaction rollback semantics,
// so atomicity can be asserted without a database.
type fakeRepo struct {
	mu         sync.Mutex
	refunds    map[string]*Refund
	history    map[uuid.UUID][]StatusHistory
	reasons    map[string]*RefundReason
	rejections map[string]*RejectionReason

	// failNextCreate makes the next Create call fail once.
	failNextCreate error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		refunds: make(map[string]*Refund),
		history: make(map[uuid.UUID][]StatusHistory),
		reasons: map[string]*RefundReason{
			"RR001": {Code: "RR001", Description: "Amended claim"},
			"RR012": {Code: "RR012", Description: "Other", RequiresReason: true},
		},
		rejections: map[string]*RejectionReason{
			"RE001": {Code: "RE001", Name: "No associated payment"},
			"RE005": {Code: "RE005", Name: "Other", RequiresReason: true},
			RejectionReasonCardFailure: {
				Code: RejectionReasonCardFailure,
				Name: "Unable to apply refund to Card, refund processed via cheque",
			},
		},
	}
}

func (f *fakeRepo) Create(_ context.Context, r *Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextCreate != nil {
		err := f.failNextCreate
		f.failNextCreate = nil
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	f.refunds[r.Reference] = &cp
	return nil
}

func (f *fakeRepo) GetByReference(_ context.Context, reference string) (*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[reference]
	if !ok {
		return nil, ErrRefundNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) GetByReferenceWithHistory(ctx context.Context, reference string) (*Refund, error) {
	r, err := f.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	r.History, _ = f.ListHistory(ctx, r.ID)
	return r, nil
}

func (f *fakeRepo) Update(_ context.Context, r *Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	cp.History = nil
	f.refunds[r.Reference] = &cp
	return nil
}

func (f *fakeRepo) List(_ context.Context, filter *Filter) ([]*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Refund
	for _, r := range f.refunds {
		if filter != nil {
			if filter.Status != "" && r.Status != filter.Status {
				continue
			}
			if filter.CcdCaseNumber != "" && r.CcdCaseNumber != filter.CcdCaseNumber {
				continue
			}
			if filter.Reference != "" && r.Reference != filter.Reference {
				continue
			}
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRepo) ListByPayment(_ context.Context, paymentReference string) ([]*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Refund
	for _, r := range f.refunds {
		if r.PaymentReference == paymentReference {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) SumActiveAmount(_ context.Context, paymentReference string, feeID int64, excludeReference string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := decimal.Zero
	for _, r := range f.refunds {
		if r.PaymentReference != paymentReference || r.FeeID != feeID {
			continue
		}
		if r.Reference == excludeReference || r.IsVoided() {
			continue
		}
		sum = sum.Add(r.Amount)
	}
	return sum, nil
}

func (f *fakeRepo) AppendHistory(_ context.Context, entry *StatusHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	f.history[entry.RefundID] = append(f.history[entry.RefundID], *entry)
	return nil
}

// ListHistory returns entries newest-first, matching the real repository.
func (f *fakeRepo) ListHistory(_ context.Context, refundID uuid.UUID) ([]StatusHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.history[refundID]
	out := make([]StatusHistory, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out, nil
}

func (f *fakeRepo) CountHistory(_ context.Context, refundID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.history[refundID])), nil
}

func (f *fakeRepo) GetReason(_ context.Context, code string) (*RefundReason, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reasons[code]
	if !ok {
		return nil, ErrReasonNotFound
	}
	return r, nil
}

func (f *fakeRepo) ListReasons(_ context.Context) ([]RefundReason, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RefundReason
	for _, r := range f.reasons {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRepo) GetRejectionReason(_ context.Context, code string) (*RejectionReason, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rejections[code]
	if !ok {
		return nil, ErrReasonNotFound
	}
	return r, nil
}

func (f *fakeRepo) WithTx(*gorm.DB) Repository {
	return f
}

// Transaction snapshots state and restores it when fn fails.
func (f *fakeRepo) Transaction(_ context.Context, fn func(txRepo Repository) error) error {
	f.mu.Lock()
	refunds := make(map[string]*Refund, len(f.refunds))
	for k, v := range f.refunds {
		cp := *v
		refunds[k] = &cp
	}
	history := make(map[uuid.UUID][]StatusHistory, len(f.history))
	for k, v := range f.history {
		history[k] = append([]StatusHistory(nil), v...)
	}
	f.mu.Unlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.refunds = refunds
		f.history = history
		f.mu.Unlock()
		return err
	}
	return nil
}

// --- Collaborator mocks ---

type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) GetPaymentGroup(ctx context.Context, paymentReference string) (*payments.PaymentGroup, error) {
	args := m.Called(ctx, paymentReference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.PaymentGroup), args.Error(1)
}

func (m *MockPayments) UpdateRemissionAmount(ctx context.Context, paymentReference string, feeID int64, amount decimal.Decimal) error {
	args := m.Called(ctx, paymentReference, feeID, amount)
	return args.Error(0)
}

type MockReconciliation struct {
	mock.Mock
}

func (m *MockReconciliation) SubmitRefund(ctx context.Context, req reconciliation.Request) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

type MockNotify struct {
	mock.Mock
}

func (m *MockNotify) SendRefundNotification(ctx context.Context, n notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// --- Shared fixtures ---

func testPaymentGroup() *payments.PaymentGroup {
	return &payments.PaymentGroup{
		PaymentReference: "RC-1234-5678-9012-3456",
		CcdCaseNumber:    "1111222233334444",
		CaseReference:    "case-001",
		Email:            "claimant@example.com",
		Status:           payments.StatusSuccess,
		Amount:           decimal.NewFromInt(300),
		Fees: []payments.Fee{{
			ID:      42,
			Code:    "FEE0219",
			Version: "1",
			Amount:  decimal.NewFromInt(300),
		}},
	}
}

type serviceFixture struct {
	repo           *fakeRepo
	payments       *MockPayments
	reconciliation *MockReconciliation
	notify         *MockNotify
	service        *Service
	engine         *ReissueEngine
}

func newServiceFixture() *serviceFixture {
	repo := newFakeRepo()
	sm := NewStateMachine()
	ledger := NewLedger(repo)
	locks := NewLocks()
	paymentsMock := &MockPayments{}
	reconciliationMock := &MockReconciliation{}
	notifyMock := &MockNotify{}
	bus := testBus()
	logger := zap.NewNop()

	return &serviceFixture{
		repo:           repo,
		payments:       paymentsMock,
		reconciliation: reconciliationMock,
		notify:         notifyMock,
		service: NewService(
			repo, sm, ledger, locks,
			paymentsMock, reconciliationMock, notifyMock, nil,
			bus, testMetrics, logger,
		),
		engine: NewReissueEngine(
			repo, sm, ledger, locks,
			paymentsMock, notifyMock,
			bus, testMetrics, logger,
		),
	}
}
