package internal

const (
	DotEnvPath        = "./.env"
	MigrationsDir     = "migrations"
	ManifestFile      = "manifest.json"
	APIKeyHeader      = "X-SimpleDispatch-Key"
	ArtifactTokenName = "artifact"
	ArchiveJobName    = "archive-runs"
)
