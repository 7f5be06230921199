package cmd

import (
	"context"
	"sync"

	"github.com/alin9661/govhub/bridge"
	"github.com/alin9661/govhub/chain"
	"github.com/alin9661/govhub/common"
	"github.com/alin9661/govhub/core"
	"github.com/alin9661/govhub/storage"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// RunChainWatcher run the chain watcher process
func RunChainWatcher(
	config common.WatcherConfig,
	subjectPrefix string,
	instance string,
	natsClient core.NatsClient,
	runTimeContext context.Context,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "watch",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid watcher config")
		return err
	}

	journal, err := storage.GetEventJournal(runTimeContext, config.Postgres)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define event journal")
		return err
	}
	defer journal.Close()

	publisher, err := bridge.GetEventPublisher(natsClient, subjectPrefix)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define event publisher")
		return err
	}

	fullnode, err := chain.GetFullnodeClient(config.Chain)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define fullnode client")
		return err
	}

	watcher, err := chain.GetChainWatcher(
		config.Chain, fullnode, publisher, journal, runTimeContext, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define chain watcher")
		return err
	}
	if err := watcher.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start chain watcher")
		return err
	}

	log.WithFields(logTags).Infof(
		"Watching %s via %s", config.Chain.TreasuryAddress, config.Chain.FullnodeURI,
	)

	// ============================================================================

	<-runTimeContext.Done()

	if err := watcher.Stop(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure during watcher shutdown")
	}

	return nil
}
