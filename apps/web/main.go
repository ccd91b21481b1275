package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoweb "github.com/tutorhive/webgate/apps/web/echo"
	"github.com/tutorhive/webgate/core"
	"github.com/tutorhive/webgate/core/access"
	"github.com/tutorhive/webgate/core/identity"
	logsvc "github.com/tutorhive/webgate/services/logger"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "WEB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	policy, err := access.NewPolicy(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up access policy: %v", err), err)
	}

	identitySvc := identity.NewService(conf, logger, validate, policy)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Gateway initializing : version %q", conf.Build))
	defer logger.Info("Gateway stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Gateway Service

	server := echoweb.NewServer(
		echoweb.ServerDeps{
			Conf:        conf,
			Logger:      logger,
			Policy:      policy,
			IdentitySvc: identitySvc,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
