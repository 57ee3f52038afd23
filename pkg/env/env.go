package env

import (
	"time"

	"github.com/caesium-cloud/fanout/pkg/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var variables = new(Environment)

func init() {
	// Populate defaults so packages reading Variables() before Process()
	// (tests, mostly) see the documented values.
	_ = envconfig.Process("fanout", variables)
}

// Process the environment variables set for fanout.
func Process() error {
	if err := envconfig.Process("fanout", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by fanout.
type Environment struct {
	LogLevel    string `split_words:"true" default:"info"`
	Port        int    `split_words:"true" default:"8080"`
	NodeID      string `split_words:"true" default:""` // hostname
	ServiceName string `split_words:"true" default:"fanout"`

	DatabaseType string `split_words:"true" default:"sqlite"`
	DatabaseDSN  string `split_words:"true" default:"file:fanout.db?_busy_timeout=5000"`

	MaxBatchSize            int           `split_words:"true" default:"100"`
	MaxConcurrentExecutions int           `split_words:"true" default:"5"`
	RemoteRequestsPerSecond float64       `split_words:"true" default:"0"`
	RemoteBurst             int           `split_words:"true" default:"1"`
	RemoteBaseURL           string        `split_words:"true" default:""`
	RemoteTimeout           time.Duration `split_words:"true" default:"30s"`

	MaxRetryAttempts int           `split_words:"true" default:"3"`
	RetryDelayBase   float64       `split_words:"true" default:"2"`
	RetryDelayUnit   time.Duration `split_words:"true" default:"1s"`

	PollInitialInterval time.Duration `split_words:"true" default:"1s"`
	PollMaxInterval     time.Duration `split_words:"true" default:"30s"`
	PollTimeout         time.Duration `split_words:"true" default:"30m"`

	LeaseTTL         time.Duration `split_words:"true" default:"2m"`
	RecoveryInterval time.Duration `split_words:"true" default:"30s"`
	RecoveryGrace    time.Duration `split_words:"true" default:"1m"`
	RecoveryWorkers  int           `split_words:"true" default:"2"`

	MaxAggregatedRows int    `split_words:"true" default:"1000000"`
	PrincipalHeader   string `split_words:"true" default:"X-Principal"`

	VaultAddress       string `split_words:"true" default:""`
	VaultToken         string `split_words:"true" default:""`
	VaultNamespace     string `split_words:"true" default:""`
	VaultCACert        string `split_words:"true" default:""`
	VaultTLSSkipVerify bool   `split_words:"true" default:"false"`

	TracingEndpoint string `split_words:"true" default:""`
}
