// Package userdelivery manages delivery layer of users.
package userdelivery

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/go-fin/fin-ledger/internal/domain"
	"github.com/go-fin/fin-ledger/pkg/errorspkg"
	"github.com/go-fin/fin-ledger/pkg/tokenpkg"
	"github.com/go-fin/fin-ledger/pkg/web"
)

// Service provides service layer interface needed by user delivery layer.
//
//go:generate mockgen -source http.go -destination http_mock.go -package userdelivery
type Service interface {
	Create(ctx context.Context, username, password, fullname, email string) (domain.UserWithoutPassword, error)
	CheckPassword(ctx context.Context, username, pass string) (domain.UserWithoutPassword, error)
}

// Handler facilitates user delivery layer logic.
type Handler struct {
	service             Service
	tokenMaker          tokenpkg.Maker
	accessTokenDuration time.Duration
}

// NewHandler returns user handler.
func NewHandler(us Service, tokenMaker tokenpkg.Maker, accessTokenDuration time.Duration) Handler {
	return Handler{
		service:             us,
		tokenMaker:          tokenMaker,
		accessTokenDuration: accessTokenDuration,
	}
}

type userData struct {
	User domain.UserWithoutPassword `json:"user"`
}

type createRequest struct {
	Username string `json:"username" binding:"required,alphanum"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
}

// Create handles http request to register a user.
func (h *Handler) Create(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req createRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	user, err := h.service.Create(ctx, req.Username, req.Password, req.FullName, req.Email)
	if err != nil {
		switch err {
		case domain.ErrUsernameAlreadyExists, domain.ErrEmailAlreadyExists:
			gctx.JSON(http.StatusConflict, web.Error(err))
			return
		}

		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	gctx.JSON(http.StatusCreated, web.Response{Data: userData{user}})
}

type loginRequest struct {
	Username string `json:"username" binding:"required,alphanum"`
	Password string `json:"password" binding:"required"`
}

// Login handles http request to verify credentials and issue an access token.
func (h *Handler) Login(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req loginRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	user, err := h.service.CheckPassword(ctx, req.Username, req.Password)
	if err != nil {
		switch err {
		case domain.ErrUserNotFound, domain.ErrWrongPassword:
			gctx.JSON(http.StatusUnauthorized, web.Error(err))
			return
		}

		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	accessToken, payload, err := h.tokenMaker.CreateToken(user.Username, h.accessTokenDuration)
	if err != nil {
		l.Error().Err(err).Send()
		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	res := web.Response{
		AccessToken:          accessToken,
		AccessTokenExpiresAt: payload.ExpiredAt.Format(time.RFC3339),
		Data:                 userData{user},
	}

	gctx.JSON(http.StatusOK, res)
}
