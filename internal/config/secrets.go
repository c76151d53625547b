package config

const redacted = "***"

// RedactedConfig returns a copy of cfg with every credential replaced by
// "***", for logging the active configuration at startup. Empty secrets
// stay empty so the log still shows which integrations are unconfigured.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, secret := range []*string{
		&out.Postgres.DSN,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.Catalog.APIKey,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.AdminAPIKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
		&out.Notify.WebhookURL,
		&out.Notify.WebhookSecret,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}

	// The struct copy above shares slice backing arrays; re-make them so
	// the redacted copy cannot mutate the original.
	out.Notify.Statuses = append([]string(nil), cfg.Notify.Statuses...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)

	return out
}
