package internal

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/haatos/simple-dispatch/internal/util"
)

var Config *Configuration

type HoursDuration time.Duration

func NewHoursDuration(hours int64) HoursDuration {
	return HoursDuration(time.Duration(hours) * time.Hour)
}

func (hd HoursDuration) MarshalJSON() ([]byte, error) {
	hours := float64(time.Duration(hd)) / float64(time.Hour)
	return json.Marshal(hours)
}

func (hd *HoursDuration) UnmarshalJSON(data []byte) error {
	var hours float64
	if err := json.Unmarshal(data, &hours); err != nil {
		return err
	}
	*hd = HoursDuration(hours * float64(time.Hour))
	return nil
}

type SecondsDuration time.Duration

func NewSecondsDuration(seconds int64) SecondsDuration {
	return SecondsDuration(time.Duration(seconds) * time.Second)
}

func (sd SecondsDuration) MarshalJSON() ([]byte, error) {
	seconds := float64(time.Duration(sd)) / float64(time.Second)
	return json.Marshal(seconds)
}

func (sd *SecondsDuration) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	*sd = SecondsDuration(seconds * float64(time.Second))
	return nil
}

type Configuration struct {
	QueueSize                int64              `json:"queue_size"`
	MaxConcurrentRuns        int64              `json:"max_concurrent_runs"`
	DefaultJobTimeoutSeconds SecondsDuration    `json:"default_job_timeout_seconds"`
	RunnerPolicy             types.RunnerPolicy `json:"runner_policy"`
	CancelSupersededRuns     bool               `json:"cancel_superseded_runs"`
	ArchiveAfterHours        HoursDuration      `json:"archive_after_hours"`
	ArtifactLinkExpiresHours HoursDuration      `json:"artifact_link_expires_hours"`
	RequestsPerSecond        float64            `json:"requests_per_second"`
}

func DefaultConfiguration() *Configuration {
	return &Configuration{
		QueueSize:                10,
		MaxConcurrentRuns:        2,
		DefaultJobTimeoutSeconds: 0,
		RunnerPolicy:             types.LeastRecentlyUsed,
		CancelSupersededRuns:     true,
		ArchiveAfterHours:        NewHoursDuration(7 * 24),
		ArtifactLinkExpiresHours: NewHoursDuration(24),
		RequestsPerSecond:        20,
	}
}

func (c *Configuration) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.MaxConcurrentRuns < 1 {
		return fmt.Errorf("max_concurrent_runs must be at least 1, got %d", c.MaxConcurrentRuns)
	}
	if c.DefaultJobTimeoutSeconds < 0 {
		return fmt.Errorf("default_job_timeout_seconds must not be negative")
	}
	policy, err := types.ParseRunnerPolicy(string(c.RunnerPolicy))
	if err != nil {
		return err
	}
	c.RunnerPolicy = policy
	return nil
}

// InitializeConfiguration reads the configuration from path, writing the
// defaults there first when the file does not exist yet.
func InitializeConfiguration(path string) {
	Config = DefaultConfiguration()

	configFileExists, _ := util.PathExists(path)
	if !configFileExists {
		if err := writeConfiguration(path, Config); err != nil {
			log.Fatal(err)
		}
	} else {
		configBytes, err := os.ReadFile(path)
		if err != nil {
			log.Fatal(err)
		}
		if err := json.Unmarshal(configBytes, Config); err != nil {
			log.Fatal(err)
		}
	}
	if err := Config.Validate(); err != nil {
		log.Fatalf("invalid configuration %s: %+v", path, err)
	}
}

func UpdateConfiguration(path string, config *Configuration) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if err := writeConfiguration(path, config); err != nil {
		return err
	}

	Config = config

	return nil
}

func writeConfiguration(path string, config *Configuration) error {
	b, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
