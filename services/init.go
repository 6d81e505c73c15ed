package services

import (
	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/logger"
	"github.com/worksphere/mailsync/internal/repository"
	"github.com/worksphere/mailsync/services/events"
	"github.com/worksphere/mailsync/services/jobs"
	"github.com/worksphere/mailsync/services/provider"
	"github.com/worksphere/mailsync/services/sync"
)

type Services struct {
	EventPublisher interfaces.EventPublisher
	TokenManager   *sync.TokenManager
	AdapterFactory interfaces.AdapterFactory
	JobQueue       interfaces.JobQueue
	SyncService    interfaces.SyncService
}

// InitServices wires the engine together. An empty rabbitmqURL swaps in the
// noop publisher, which keeps local runs and tests broker-free.
func InitServices(rabbitmqURL string, log logger.Logger, repos *repository.Repositories, liveWorkers, backfillWorkers int) (*Services, error) {
	var publisher interfaces.EventPublisher
	if rabbitmqURL == "" {
		log.Warn("RabbitMQ URL not set, events will not be published")
		publisher = events.NoopPublisher{}
	} else {
		rabbit, err := events.NewRabbitMQPublisher(rabbitmqURL, log, nil)
		if err != nil {
			return nil, err
		}
		publisher = rabbit
	}

	tokenManager := sync.NewTokenManager(repos.AccountRepository, repos.SyncLogRepository, publisher, log)
	adapterFactory := provider.NewFactory(tokenManager, log)

	if liveWorkers <= 0 {
		liveWorkers = 4
	}
	if backfillWorkers <= 0 {
		backfillWorkers = 2
	}
	queue := jobs.NewInProcessQueue(log, map[string]int{
		interfaces.QueueLive:     liveWorkers,
		interfaces.QueueBackfill: backfillWorkers,
	})

	syncService := sync.NewService(
		log,
		repos.AccountRepository,
		repos.EmailRepository,
		repos.FolderSyncRepository,
		repos.SyncLogRepository,
		adapterFactory,
		tokenManager,
		publisher,
		queue,
	)

	services := Services{
		EventPublisher: publisher,
		TokenManager:   tokenManager,
		AdapterFactory: adapterFactory,
		JobQueue:       queue,
		SyncService:    syncService,
	}

	return &services, nil
}
