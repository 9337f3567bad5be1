// Package httpserver manages server creation and api routing.
package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/go-fin/fin-ledger/internal/accountdelivery"
	"github.com/go-fin/fin-ledger/internal/accountstore"
	"github.com/go-fin/fin-ledger/internal/ledgerdelivery"
	"github.com/go-fin/fin-ledger/internal/ledgerservice"
	"github.com/go-fin/fin-ledger/internal/middleware"
	"github.com/go-fin/fin-ledger/internal/snapshotrepo"
	"github.com/go-fin/fin-ledger/internal/transactionlog"
	"github.com/go-fin/fin-ledger/internal/userdelivery"
	"github.com/go-fin/fin-ledger/internal/userservice"
	"github.com/go-fin/fin-ledger/internal/userstore"
	"github.com/go-fin/fin-ledger/pkg/configpkg"
	"github.com/go-fin/fin-ledger/pkg/currencypkg"
	"github.com/go-fin/fin-ledger/pkg/idpkg"
	"github.com/go-fin/fin-ledger/pkg/tokenpkg"
)

// Server holds the router and configuration.
type Server struct {
	Engine *gin.Engine
	Config configpkg.Config
}

// ServeHTTP implements the http.Handler interface for the Server type.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Engine.ServeHTTP(w, r)
}

// New creates Server with loaded state, instantiated domains and routes.
func New(logger zerolog.Logger, config configpkg.Config) (*Server, error) {
	fileStore := snapshotrepo.NewFileStore(config.SnapshotFile)

	snapshot, err := fileStore.Load(logger.WithContext(context.Background()))
	if err != nil {
		return nil, errors.New("cannot load snapshot")
	}

	accounts := accountstore.New(idpkg.UUID{})
	accounts.Restore(snapshot.Accounts)

	log := transactionlog.New()
	log.Restore(snapshot.Transactions)

	users := userstore.New()
	users.Restore(snapshot.Users)

	tokenMaker, err := tokenpkg.NewPasetoMaker(config.TokenSymmetricKey)
	if err != nil {
		return nil, errors.New("cannot create token maker")
	}

	ledgerService := ledgerservice.New(accounts, log, fileStore, idpkg.UUID{})
	userService := userservice.New(users, fileStore)

	userHandler := userdelivery.NewHandler(userService, tokenMaker, config.AccessTokenDuration)
	accountHandler := accountdelivery.NewHandler(ledgerService)
	ledgerHandler := ledgerdelivery.NewHandler(ledgerService)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RequestLogger(logger))
	engine.Use(gin.Recovery())

	engine.POST("/users", userHandler.Create)
	engine.POST("/users/login", userHandler.Login)

	authRoutes := engine.Group("/").Use(middleware.AuthMiddleware(tokenMaker))

	authRoutes.POST("/accounts", accountHandler.Create)
	authRoutes.GET("/accounts", accountHandler.List)
	authRoutes.GET("/accounts/:id", accountHandler.Get)
	authRoutes.DELETE("/accounts/:id", accountHandler.Delete)

	authRoutes.POST("/accounts/:id/deposit", ledgerHandler.Deposit)
	authRoutes.POST("/accounts/:id/expense", ledgerHandler.Expense)
	authRoutes.POST("/accounts/:id/transfer", ledgerHandler.Transfer)
	authRoutes.GET("/accounts/:id/transactions", ledgerHandler.ListTransactions)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("currency", currencypkg.ValidCurrency)
		if err != nil {
			return nil, errors.New("cannot register currency validator")
		}
	}

	server := &Server{
		Engine: engine,
		Config: config,
	}

	return server, nil
}
