package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	echoapi "github.com/trezcool/masomo-portal/apps/mockapi/echo"
	"github.com/trezcool/masomo-portal/core"
	logsvc "github.com/trezcool/masomo-portal/services/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "MOCK API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	secret := conf.MockAPI.Secret
	if secret == "" {
		if !conf.Debug {
			logger.Fatal("a token secret is required outside of DEV")
		}
		secret = uuid.NewString()
	}

	server, err := echoapi.NewServer(&echoapi.Options{
		Address:    conf.MockAPI.Address,
		Debug:      conf.Debug,
		TestMode:   conf.TestMode,
		AppName:    conf.AppName,
		Secret:     []byte(secret),
		AccessTTL:  conf.MockAPI.AccessTTL,
		RefreshTTL: conf.MockAPI.RefreshTTL,
		NATSURL:    conf.MockAPI.NATSURL,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up server: %v", err), err)
	}

	logger.Info(fmt.Sprintf("Mock API initializing : version %q", conf.Build))
	defer logger.Info("Mock API stopped")

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-serverErrors:
		if err != nil {
			logger.Fatal(fmt.Sprintf("server error: %v", err), err)
		}
		return
	case sig := <-sigs:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
	case <-server.Shutdown():
		logger.Info("shutdown requested: Start shutdown...")
	}

	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = server.Stop(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
}
