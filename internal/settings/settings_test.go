package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettings_ReadDotenv(t *testing.T) {
	t.Run("success - .env files is read into env variables", func(t *testing.T) {
		// arrange
		testDotEnvFile := filepath.Join(t.TempDir(), ".env.test")
		lines := []byte("#COMMENTED=asdf\nSIMPLE_DISPATCH_TEST=1234\n\nSIMPLE_DISPATCH_TEST2= 2345 \nSIMPLE_DISPATCH_TEST3=\"a=b\"\n")
		if err := os.WriteFile(testDotEnvFile, lines, 0644); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			os.Unsetenv("SIMPLE_DISPATCH_TEST")
			os.Unsetenv("SIMPLE_DISPATCH_TEST2")
			os.Unsetenv("SIMPLE_DISPATCH_TEST3")
		})

		// act
		ReadDotenv(testDotEnvFile)

		// assert
		assert.Equal(t, "1234", os.Getenv("SIMPLE_DISPATCH_TEST"))
		assert.Equal(t, "2345", os.Getenv("SIMPLE_DISPATCH_TEST2"))
		assert.Equal(t, "a=b", os.Getenv("SIMPLE_DISPATCH_TEST3"))
		_, ok := os.LookupEnv("COMMENTED")
		assert.False(t, ok)
	})
	t.Run("success - missing file is ignored", func(t *testing.T) {
		// act & assert
		assert.NotPanics(t, func() {
			ReadDotenv(filepath.Join(t.TempDir(), "missing.env"))
		})
	})
}

func TestSettings_NewSettings(t *testing.T) {
	t.Run("success - port is prefixed", func(t *testing.T) {
		// arrange
		t.Setenv("SIMPLEDISPATCH_PORT", "9090")

		// act
		s := NewSettings()

		// assert
		assert.Equal(t, ":9090", s.Port)
		assert.Equal(t, "http://localhost:9090", s.BaseURL())
	})
}

func TestSettings_Driver(t *testing.T) {
	t.Run("success - postgres url selects pgx", func(t *testing.T) {
		// arrange
		s := &AppSettings{DatabaseURL: "postgres://dispatch@localhost/dispatch"}

		// act
		driver := s.Driver()

		// assert
		assert.Equal(t, DriverPostgres, driver)
		assert.Equal(t, s.DatabaseURL, s.DbString(true))
	})
	t.Run("success - file path selects sqlite", func(t *testing.T) {
		// arrange
		s := &AppSettings{DatabaseURL: "file:./dispatch.sqlite"}

		// act
		driver := s.Driver()
		ro := s.DbString(true)
		rw := s.DbString(false)

		// assert
		assert.Equal(t, DriverSQLite, driver)
		assert.Contains(t, ro, "mode=ro")
		assert.Contains(t, rw, "mode=rwc")
		assert.Contains(t, rw, "_txlock=IMMEDIATE")
	})
}
