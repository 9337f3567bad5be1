package main

import (
	"github.com/rs/zerolog/log"

	"github.com/go-fin/fin-ledger/cmd/httpserver"
	"github.com/go-fin/fin-ledger/internal/middleware"
	"github.com/go-fin/fin-ledger/pkg/configpkg"
)

func main() {
	config, err := configpkg.Load("./configs")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}

	logger := middleware.GetLogger(config)

	server, err := httpserver.New(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot create server")
	}

	err = server.Engine.Run(config.ServerAddress)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot start server")
	}
}
