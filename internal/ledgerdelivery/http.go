// Package ledgerdelivery manages delivery layer of balance-affecting operations.
package ledgerdelivery

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/go-fin/fin-ledger/internal/domain"
	"github.com/go-fin/fin-ledger/internal/middleware"
	"github.com/go-fin/fin-ledger/pkg/errorspkg"
	"github.com/go-fin/fin-ledger/pkg/tokenpkg"
	"github.com/go-fin/fin-ledger/pkg/web"
)

// Service provides service layer interface needed by ledger delivery layer.
//
//go:generate mockgen -source http.go -destination http_mock.go -package ledgerdelivery
type Service interface {
	Deposit(ctx context.Context, accountID, requestingUserID string, amount decimal.Decimal, currency, description string) (domain.Account, domain.Transaction, error)
	Expense(ctx context.Context, accountID, requestingUserID string, amount decimal.Decimal, description string) (domain.Account, domain.Transaction, error)
	Transfer(ctx context.Context, requestingUserID string, arg domain.CreateTransferParams) (domain.TransferResult, error)
	ListTransactions(ctx context.Context, accountID, requestingUserID string, filter domain.TransactionFilter) ([]domain.Transaction, error)
}

// Handler facilitates ledger delivery layer logic.
type Handler struct {
	service Service
}

// NewHandler returns ledger handler.
func NewHandler(ls Service) Handler {
	return Handler{service: ls}
}

type uriRequest struct {
	ID string `uri:"id" binding:"required"`
}

type mutationData struct {
	Account     domain.Account     `json:"account"`
	Transaction domain.Transaction `json:"transaction"`
}

type mutationResponse struct {
	Data mutationData `json:"data,omitempty"`
}

func writeLedgerError(gctx *gin.Context, err error) {
	switch err {
	case domain.ErrAccountNotFound:
		gctx.JSON(http.StatusNotFound, web.Error(err))
	case domain.ErrAccountOwnerMismatch:
		gctx.JSON(http.StatusForbidden, web.Error(err))
	case domain.ErrInvalidAmount,
		domain.ErrInsufficientBalance,
		domain.ErrCurrencyMismatch,
		domain.ErrSameAccountTransfer,
		domain.ErrNonZeroBalance:
		gctx.JSON(http.StatusBadRequest, web.Error(err))
	case domain.ErrPersistenceFailed, domain.ErrBalanceInvariant:
		gctx.JSON(http.StatusInternalServerError, web.Error(err))
	default:
		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))
	}
}

type depositRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required,currency"`
	Description string `json:"description"`
}

// Deposit handles http request to credit an account.
func (h *Handler) Deposit(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var uri uriRequest
	if err := gctx.ShouldBindUri(&uri); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	var req depositRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(domain.ErrInvalidAmount))

		return
	}

	authPayload := gctx.MustGet(middleware.AuthPayloadKey).(*tokenpkg.Payload)

	account, transaction, err := h.service.Deposit(ctx, uri.ID, authPayload.Username, amount, req.Currency, req.Description)
	if err != nil {
		l.Info().Err(err).Send()
		writeLedgerError(gctx, err)

		return
	}

	gctx.JSON(http.StatusOK, mutationResponse{Data: mutationData{account, transaction}})
}

type expenseRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// Expense handles http request to debit an account.
func (h *Handler) Expense(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var uri uriRequest
	if err := gctx.ShouldBindUri(&uri); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	var req expenseRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(domain.ErrInvalidAmount))

		return
	}

	authPayload := gctx.MustGet(middleware.AuthPayloadKey).(*tokenpkg.Payload)

	account, transaction, err := h.service.Expense(ctx, uri.ID, authPayload.Username, amount, req.Description)
	if err != nil {
		l.Info().Err(err).Send()
		writeLedgerError(gctx, err)

		return
	}

	gctx.JSON(http.StatusOK, mutationResponse{Data: mutationData{account, transaction}})
}

type transferRequest struct {
	ToAccountID string `json:"to_account_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

type transferData struct {
	Transfer domain.TransferResult `json:"transfer"`
}

type transferResponse struct {
	Data transferData `json:"data,omitempty"`
}

// Transfer handles http request to move money between two accounts.
func (h *Handler) Transfer(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var uri uriRequest
	if err := gctx.ShouldBindUri(&uri); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	var req transferRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(domain.ErrInvalidAmount))

		return
	}

	authPayload := gctx.MustGet(middleware.AuthPayloadKey).(*tokenpkg.Payload)

	arg := domain.CreateTransferParams{
		FromAccountID: uri.ID,
		ToAccountID:   req.ToAccountID,
		Amount:        amount,
	}

	result, err := h.service.Transfer(ctx, authPayload.Username, arg)
	if err != nil {
		l.Info().Err(err).Send()
		writeLedgerError(gctx, err)

		return
	}

	gctx.JSON(http.StatusOK, transferResponse{Data: transferData{result}})
}

type listRequest struct {
	Type string    `form:"type"`
	From time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

type dataTransactions struct {
	Transactions []domain.Transaction `json:"transactions"`
}

type responseTransactions struct {
	Data dataTransactions `json:"data,omitempty"`
}

// ListTransactions handles http request to list an account's transactions.
func (h *Handler) ListTransactions(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var uri uriRequest
	if err := gctx.ShouldBindUri(&uri); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	var req listRequest
	if err := gctx.ShouldBindQuery(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	if req.Type != "" && !domain.IsValidTransactionType(domain.TransactionType(req.Type)) {
		gctx.JSON(http.StatusBadRequest, web.Error(domain.ErrInvalidTransaction))
		return
	}

	filter := domain.TransactionFilter{
		Type: domain.TransactionType(req.Type),
		From: req.From,
		To:   req.To,
	}

	authPayload := gctx.MustGet(middleware.AuthPayloadKey).(*tokenpkg.Payload)

	transactions, err := h.service.ListTransactions(ctx, uri.ID, authPayload.Username, filter)
	if err != nil {
		l.Info().Err(err).Send()
		writeLedgerError(gctx, err)

		return
	}

	gctx.JSON(http.StatusOK, responseTransactions{Data: dataTransactions{transactions}})
}
