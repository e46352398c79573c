package settings

import (
	"bufio"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var Settings *AppSettings

type DatabaseDriver string

const (
	DriverSQLite   DatabaseDriver = "sqlite"
	DriverPostgres DatabaseDriver = "pgx"
)

func NewSettings() *AppSettings {
	settings := AppSettings{
		Domain:      getEnvOrDefault("SIMPLEDISPATCH_DOMAIN", "localhost"),
		Port:        getEnvOrDefault("SIMPLEDISPATCH_PORT", ":8080"),
		DatabaseURL: getEnvOrDefault("SIMPLEDISPATCH_DB", "file:./dispatch.sqlite"),
		DataDir:     getEnvOrDefault("SIMPLEDISPATCH_DATA_DIR", "data"),
		ConfigPath:  getEnvOrDefault("SIMPLEDISPATCH_CONFIG", "config.json"),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

type AppSettings struct {
	Domain      string
	Port        string
	DatabaseURL string
	DataDir     string
	ConfigPath  string
}

func (as *AppSettings) BaseURL() string {
	if as.Domain == "localhost" {
		return fmt.Sprintf("http://%s%s", as.Domain, as.Port)
	} else {
		return fmt.Sprintf("https://%s", as.Domain)
	}
}

// Driver returns the database/sql driver name for DatabaseURL. PostgreSQL
// URLs use pgx; everything else is treated as a sqlite file.
func (as *AppSettings) Driver() DatabaseDriver {
	if strings.HasPrefix(as.DatabaseURL, "postgres://") ||
		strings.HasPrefix(as.DatabaseURL, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

func (as *AppSettings) DbString(readonly bool) string {
	if as.Driver() == DriverPostgres {
		return as.DatabaseURL
	}
	return as.SQLiteDbString(readonly)
}

func (as *AppSettings) SQLiteDbString(readonly bool) string {
	params := make(url.Values)
	params.Add("_journal_mode", "WAL")
	params.Add("_busy_timeout", "5000")
	params.Add("_synchronous", "NORMAL")
	params.Add("_cache_size", "-20000")
	params.Add("_foreign_keys", "ON")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "IMMEDIATE")
		params.Add("mode", "rwc")
	}

	return as.DatabaseURL + "?" + params.Encode()
}

func (as *AppSettings) LogsDir() string {
	return filepath.Join(as.DataDir, "logs")
}

func (as *AppSettings) ArtifactsDir() string {
	return filepath.Join(as.DataDir, "artifacts")
}

func (as *AppSettings) WorkspacesDir() string {
	return filepath.Join(as.DataDir, "workspaces")
}

func (as *AppSettings) ArchivesDir() string {
	return filepath.Join(as.DataDir, "archives")
}

// ReadDotenv loads KEY=value lines from path into the environment. A missing
// file is not an error.
func ReadDotenv(path string) {
	re := regexp.MustCompile(`^[^0-9][A-Z0-9_]+=.+$`)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.Fatal("err opening dotenv: ", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] != '#' && re.Match(line) {
			name, value, _ := strings.Cut(string(line), "=")
			name = strings.TrimSpace(name)
			value = strings.TrimSpace(value)
			value = strings.Trim(value, `"`)
			os.Setenv(name, value)
		}
	}
}
