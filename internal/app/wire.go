//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hmcts/refunds-api/internal/client/idam"
	"github.com/hmcts/refunds-api/internal/client/notify"
	"github.com/hmcts/refunds-api/internal/client/payments"
	"github.com/hmcts/refunds-api/internal/client/reconciliation"
	"github.com/hmcts/refunds-api/internal/module/refund"
	"github.com/hmcts/refunds-api/internal/shared/events"
	"github.com/hmcts/refunds-api/internal/shared/metrics"
)

// InitializeRefundHandler builds the refund module handler from its
// infrastructure dependencies.
func InitializeRefundHandler(
	db *gorm.DB,
	paymentsClient *payments.Client,
	reconciliationClient *reconciliation.Client,
	notifyClient *notify.Client,
	userCache *idam.UserCache,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) *refund.Handler {
	wire.Build(RefundProviderSet)
	return nil
}
