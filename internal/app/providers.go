package app

import (
	"github.com/google/wire"

	"github.com/hmcts/refunds-api/internal/client/idam"
	"github.com/hmcts/refunds-api/internal/client/notify"
	"github.com/hmcts/refunds-api/internal/client/payments"
	"github.com/hmcts/refunds-api/internal/client/reconciliation"
	"github.com/hmcts/refunds-api/internal/module/refund"
)

// RefundProviderSet wires the refund module from its infrastructure
// dependencies. app.New performs the same wiring by hand; the injector in
// wire.go exists for composing the module in isolation (tests, tooling).
var RefundProviderSet = wire.NewSet(
	refund.NewRepository,
	refund.NewStateMachine,
	refund.NewLedger,
	refund.NewLocks,
	refund.NewService,
	refund.NewReissueEngine,
	refund.NewHandler,
	wire.Bind(new(refund.PaymentsClient), new(*payments.Client)),
	wire.Bind(new(refund.ReconciliationClient), new(*reconciliation.Client)),
	wire.Bind(new(refund.NotifyClient), new(*notify.Client)),
	wire.Bind(new(refund.IdentityResolver), new(*idam.UserCache)),
)
