// Package accountdelivery manages delivery layer of accounts.
package accountdelivery

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/go-fin/fin-ledger/internal/domain"
	"github.com/go-fin/fin-ledger/internal/middleware"
	"github.com/go-fin/fin-ledger/pkg/errorspkg"
	"github.com/go-fin/fin-ledger/pkg/tokenpkg"
	"github.com/go-fin/fin-ledger/pkg/web"
)

// Service provides service layer interface needed by account delivery layer.
//
//go:generate mockgen -source http.go -destination http_mock.go -package accountdelivery
type Service interface {
	CreateAccount(ctx context.Context, userID, currency string, initialBalance decimal.Decimal) (domain.Account, error)
	GetAccount(ctx context.Context, accountID, requestingUserID string) (domain.Account, []domain.Transaction, error)
	ListAccounts(ctx context.Context, userID string) []domain.Account
	DeleteAccount(ctx context.Context, accountID, requestingUserID string) error
}

// Handler facilitates account delivery layer logic.
type Handler struct {
	service Service
}

// NewHandler returns account handler.
func NewHandler(as Service) Handler {
	return Handler{service: as}
}

func bindErrorMsg(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		field := ve[0]
		return field.Field() + web.GetErrorMsg(field)
	}

	return err.Error()
}

type data struct {
	Account domain.Account `json:"account"`
}

type response struct {
	Data data `json:"data,omitempty"`
}

type createRequest struct {
	Currency       string `json:"currency" binding:"required,currency"`
	InitialBalance string `json:"initial_balance"`
}

// Create handles http request to create account.
func (h *Handler) Create(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req createRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: bindErrorMsg(err)})

		return
	}

	initialBalance := decimal.Zero

	if req.InitialBalance != "" {
		var err error

		initialBalance, err = decimal.NewFromString(req.InitialBalance)
		if err != nil {
			l.Info().Err(err).Send()
			gctx.JSON(http.StatusBadRequest, web.Error(domain.ErrInvalidAmount))

			return
		}
	}

	authPayload := gctx.MustGet(middleware.AuthPayloadKey).(*tokenpkg.Payload)

	createdAccount, err := h.service.CreateAccount(ctx, authPayload.Username, req.Currency, initialBalance)
	if err != nil {
		switch err {
		case domain.ErrCurrencyNotSupported, domain.ErrNegativeBalance:
			gctx.JSON(http.StatusBadRequest, web.Error(err))
			return
		case domain.ErrCurrencyAlreadyExists:
			gctx.JSON(http.StatusConflict, web.Error(err))
			return
		}

		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	res := response{
		Data: data{createdAccount},
	}

	gctx.JSON(http.StatusOK, res)
}

type getRequest struct {
	ID string `uri:"id" binding:"required"`
}

type dataWithTransactions struct {
	Account            domain.Account       `json:"account"`
	RecentTransactions []domain.Transaction `json:"recent_transactions"`
}

type responseWithTransactions struct {
	Data dataWithTransactions `json:"data,omitempty"`
}

// Get handles http request to get an account with its recent transactions.
func (h *Handler) Get(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req getRequest
	if err := gctx.ShouldBindUri(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: bindErrorMsg(err)})

		return
	}

	authPayload := gctx.MustGet(middleware.AuthPayloadKey).(*tokenpkg.Payload)

	acc, recent, err := h.service.GetAccount(ctx, req.ID, authPayload.Username)
	if err != nil {
		switch err {
		case domain.ErrAccountNotFound:
			gctx.JSON(http.StatusNotFound, web.Error(err))
			return
		case domain.ErrAccountOwnerMismatch:
			gctx.JSON(http.StatusForbidden, web.Error(err))
			return
		}

		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	res := responseWithTransactions{
		Data: dataWithTransactions{Account: acc, RecentTransactions: recent},
	}

	gctx.JSON(http.StatusOK, res)
}

type dataAccounts struct {
	Accounts []domain.Account `json:"accounts"`
}

type responseAccounts struct {
	Data dataAccounts `json:"data,omitempty"`
}

// List handles http request to list the user's accounts.
func (h *Handler) List(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	authPayload := gctx.MustGet(middleware.AuthPayloadKey).(*tokenpkg.Payload)

	accounts := h.service.ListAccounts(ctx, authPayload.Username)

	res := responseAccounts{
		Data: dataAccounts{accounts},
	}

	gctx.JSON(http.StatusOK, res)
}

// Delete handles http request to delete an account.
func (h *Handler) Delete(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req getRequest
	if err := gctx.ShouldBindUri(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: bindErrorMsg(err)})

		return
	}

	authPayload := gctx.MustGet(middleware.AuthPayloadKey).(*tokenpkg.Payload)

	if err := h.service.DeleteAccount(ctx, req.ID, authPayload.Username); err != nil {
		switch err {
		case domain.ErrAccountNotFound:
			gctx.JSON(http.StatusNotFound, web.Error(err))
			return
		case domain.ErrAccountOwnerMismatch:
			gctx.JSON(http.StatusForbidden, web.Error(err))
			return
		case domain.ErrNonZeroBalance:
			gctx.JSON(http.StatusBadRequest, web.Error(err))
			return
		}

		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: gin.H{"deleted": req.ID}})
}
