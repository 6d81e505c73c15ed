package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Forward crawl tick for all syncable accounts, every 2 minutes
	CronScheduleForwardCrawl string `env:"CRON_SCHEDULE_FORWARD_CRAWL" envDefault:"0 */2 * * * *"`
	// Resume interrupted backfill and full-sync work, every 5 minutes
	CronScheduleResumeSync string `env:"CRON_SCHEDULE_RESUME_SYNC" envDefault:"0 */5 * * * *"`
}
