package cron

import (
	"os"
	"testing"

	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"k8s.io/client-go/kubernetes"

	cron_config "github.com/worksphere/mailsync/internal/cron/config"
	"github.com/worksphere/mailsync/internal/logger"
)

type mockKubernetesInterface struct {
	kubernetes.Interface
	mock.Mock
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func TestNewCronManager(t *testing.T) {
	// Arrange
	log := getLogger()
	k8s := &mockKubernetesInterface{}

	// Act
	cm := NewCronManager(log, k8s, nil, nil)

	// Assert
	assert.NotNil(t, cm)
	assert.Equal(t, log, cm.log)
	assert.Equal(t, k8s, cm.k8s)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_StartCron(t *testing.T) {
	// Set environment variable for testing
	os.Setenv("CRON_SCHEDULE_FORWARD_CRAWL", "0 */2 * * * *")
	os.Setenv("CRON_SCHEDULE_RESUME_SYNC", "0 */5 * * * *")
	defer os.Unsetenv("CRON_SCHEDULE_FORWARD_CRAWL")
	defer os.Unsetenv("CRON_SCHEDULE_RESUME_SYNC")

	// Arrange
	log := getLogger()
	k8s := &mockKubernetesInterface{}
	cm := NewCronManager(log, k8s, nil, nil)

	// Create a mock cron for testing
	mockCron := cronv3.New(cronv3.WithSeconds())

	// Register jobs directly
	var cronConfig cron_config.Config
	cronConfig.CronScheduleForwardCrawl = "0 */2 * * * *"
	cronConfig.CronScheduleResumeSync = "0 */5 * * * *"

	// Act - register jobs manually
	forwardId, err := mockCron.AddFunc(cronConfig.CronScheduleForwardCrawl, func() {})
	assert.NoError(t, err)
	cm.jobIDs["forward_crawl"] = forwardId

	resumeId, err := mockCron.AddFunc(cronConfig.CronScheduleResumeSync, func() {})
	assert.NoError(t, err)
	cm.jobIDs["resume_sync"] = resumeId

	cm.cron = mockCron

	// Assert
	assert.NotNil(t, cm.cron)
	assert.Equal(t, 2, len(cm.jobIDs))
}

func TestCronManager_Stop(t *testing.T) {
	// Arrange
	log := getLogger()
	k8s := &mockKubernetesInterface{}
	cm := NewCronManager(log, k8s, nil, nil)
	cm.cron = cronv3.New(cronv3.WithSeconds())
	cm.cron.Start()

	// Act
	cm.Stop()

	// Assert - stop channel is closed
	select {
	case <-cm.stopCh:
	default:
		t.Fatal("stop channel should be closed")
	}
}

func TestCronConfig_Defaults(t *testing.T) {
	var cronConfig cron_config.Config
	assert.Empty(t, cronConfig.CronScheduleHeartbeat)

	// The schedules parse as valid six-field cron expressions.
	parser := cronv3.NewParser(cronv3.Second | cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow)
	for _, schedule := range []string{"0 * * * * *", "0 */2 * * * *", "0 */5 * * * *"} {
		_, err := parser.Parse(schedule)
		assert.NoError(t, err)
	}
}
