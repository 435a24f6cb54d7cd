// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config implements the configuration of the syncer.
//
// Settings are loaded from YAML files and environment variables with
// cleanenv. Precedence, highest first:
//
//  1. Environment variables
//  2. YAML configuration files, later files overriding earlier ones
//  3. Defaults from the env-default tags
//
// Validate normalizes the loaded values and rejects processing settings the
// chunk processor cannot run with, so a bad file fails before any work starts.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cloudzero/cloudzero-syncer/app/types"
)

const (
	DefaultChunkSize          = 100
	DefaultConcurrency        = 3
	DefaultRetryAttempts      = 3
	DefaultRetryDelayBase     = time.Second
	DefaultPauseBetweenChunks = 0

	// DefaultSendTimeout bounds a single executor attempt.
	DefaultSendTimeout = 30 * time.Second
	DefaultHTTPMaxWait = 30 * time.Second

	DefaultServerPort  = 8080
	DefaultDatabaseDSN = "syncer.db"

	DefaultSourceQuery       = ".[]"
	DefaultSourceSerialField = "serial"
)

// Settings is the complete configuration of the syncer.
type Settings struct {
	Processing Processing `yaml:"processing"`
	Remote     Remote     `yaml:"remote"`
	Source     Source     `yaml:"source"`
	Logging    Logging    `yaml:"logging"`
	Server     Server     `yaml:"server"`
	Database   Database   `yaml:"database"`
}

type Processing struct {
	ChunkSize          int           `yaml:"chunk_size" env:"CHUNK_SIZE" env-default:"100" env-description:"maximum number of work items per chunk"`
	Concurrency        int           `yaml:"concurrency" env:"CONCURRENCY" env-default:"3" env-description:"maximum number of chunks processed at the same time"`
	RetryAttempts      int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS" env-default:"3" env-description:"total attempts per chunk, including the first"`
	RetryDelayBase     time.Duration `yaml:"retry_delay_base" env:"RETRY_DELAY_BASE" env-default:"1s" env-description:"base backoff between chunk attempts"`
	PauseBetweenChunks time.Duration `yaml:"pause_between_chunks" env:"PAUSE_BETWEEN_CHUNKS" env-default:"0s" env-description:"cooldown after a chunk before its slot is reused"`
	Backoff            string        `yaml:"backoff" env:"BACKOFF" env-default:"linear" env-description:"backoff strategy, linear or exponential"`
	CancelInFlight     bool          `yaml:"cancel_in_flight" env:"CANCEL_IN_FLIGHT" env-default:"false" env-description:"cancel running executor calls on abort"`
	SkipUnresolved     bool          `yaml:"skip_unresolved" env:"SKIP_UNRESOLVED" env-default:"false" env-description:"drop work items without a record before planning"`
}

type Remote struct {
	Endpoint          string        `yaml:"endpoint" env:"REMOTE_ENDPOINT" env-description:"URL chunks are posted to"`
	APIKeyPath        string        `yaml:"api_key_path" env:"API_KEY_PATH" env-description:"path to the API key file, empty for no authentication"`
	WatchAPIKey       bool          `yaml:"watch_api_key" env:"WATCH_API_KEY" env-default:"true" env-description:"reload the API key when the file changes"`
	SendTimeout       time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT" env-default:"30s" env-description:"timeout of a single executor attempt"`
	HTTPMaxRetries    int           `yaml:"http_max_retries" env:"HTTP_MAX_RETRIES" env-default:"0" env-description:"transport level retries inside one attempt"`
	HTTPMaxWait       time.Duration `yaml:"http_max_wait" env:"HTTP_MAX_WAIT" env-default:"30s" env-description:"maximum wait between transport level retries"`
	Compress          bool          `yaml:"compress" env:"REMOTE_COMPRESS" env-default:"false" env-description:"brotli compress request bodies"`
	RetryServerErrors bool          `yaml:"retry_server_errors" env:"RETRY_SERVER_ERRORS" env-default:"false" env-description:"treat 5xx and 429 responses as retryable"`
}

type Source struct {
	Path        string `yaml:"path" env:"SOURCE_PATH" env-description:"JSON or YAML document holding the records"`
	Query       string `yaml:"query" env:"SOURCE_QUERY" env-default:".[]" env-description:"jq expression selecting the records"`
	IDsQuery    string `yaml:"ids_query" env:"SOURCE_IDS_QUERY" env-description:"jq expression selecting the ordered work item ids, defaults to the record serials"`
	SerialField string `yaml:"serial_field" env:"SOURCE_SERIAL_FIELD" env-default:"serial" env-description:"record field holding the serial"`
}

type Logging struct {
	Level     string   `yaml:"level" env:"LOG_LEVEL" env-default:"info" env-description:"logging level such as debug, info, error"`
	Broadcast bool     `yaml:"broadcast" env:"LOG_BROADCAST" env-default:"false" env-description:"publish log lines on the event bus"`
	Omit      []string `yaml:"omit" env:"LOG_OMIT" env-description:"fields removed from log lines"`
}

type Server struct {
	Port         uint `yaml:"port" env:"SERVER_PORT" env-default:"8080" env-description:"server port"`
	RetainedRuns int  `yaml:"retained_runs" env:"SERVER_RETAINED_RUNS" env-default:"100" env-description:"finished runs kept in memory, older ones are only in the history"`
}

type Database struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN" env-default:"syncer.db" env-description:"sqlite database holding run reports"`
}

// NewSettings loads the given files in order, applies the environment and
// validates the result. With no files only the environment and defaults are
// used.
func NewSettings(configFiles ...string) (*Settings, error) {
	var cfg Settings

	loaded := false
	for _, cfgFile := range configFiles {
		if cfgFile == "" {
			continue
		}

		if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("no config %s", cfgFile)
		}

		if err := cleanenv.ReadConfig(cfgFile, &cfg); err != nil {
			return nil, fmt.Errorf("config read %s: %w", cfgFile, err)
		}
		loaded = true
	}

	if !loaded {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, errors.Wrap(err, "failed to read environment")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "failed to validate settings")
	}

	return &cfg, nil
}

func (s *Settings) Validate() error {
	if err := s.Processing.Validate(); err != nil {
		return errors.Wrap(err, "processing validation")
	}

	if err := s.Remote.Validate(); err != nil {
		return errors.Wrap(err, "remote validation")
	}

	if err := s.Source.Validate(); err != nil {
		return errors.Wrap(err, "source validation")
	}

	if err := s.Server.Validate(); err != nil {
		return errors.Wrap(err, "server validation")
	}

	if err := s.Database.Validate(); err != nil {
		return errors.Wrap(err, "database validation")
	}

	s.Logging.Level = strings.ToLower(strings.TrimSpace(s.Logging.Level))
	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}

	return nil
}

func (p *Processing) Validate() error {
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", p.ChunkSize)
	}
	if p.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", p.Concurrency)
	}
	if p.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be positive, got %d", p.RetryAttempts)
	}
	if p.RetryDelayBase < 0 {
		return fmt.Errorf("retry_delay_base must not be negative, got %s", p.RetryDelayBase)
	}
	if p.PauseBetweenChunks < 0 {
		return fmt.Errorf("pause_between_chunks must not be negative, got %s", p.PauseBetweenChunks)
	}

	p.Backoff = strings.ToLower(strings.TrimSpace(p.Backoff))
	switch types.BackoffStrategy(p.Backoff) {
	case "":
		p.Backoff = string(types.BackoffLinear)
	case types.BackoffLinear, types.BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff %q", p.Backoff)
	}
	return nil
}

func (r *Remote) Validate() error {
	if r.SendTimeout <= 0 {
		r.SendTimeout = DefaultSendTimeout
	}
	if r.HTTPMaxWait <= 0 {
		r.HTTPMaxWait = DefaultHTTPMaxWait
	}
	if r.HTTPMaxRetries < 0 {
		r.HTTPMaxRetries = 0
	}

	r.Endpoint = strings.TrimSpace(r.Endpoint)
	if r.Endpoint == "" {
		return errors.New("endpoint is empty")
	}
	if !isValidURL(r.Endpoint) {
		return fmt.Errorf("invalid endpoint URL %q", r.Endpoint)
	}

	if r.APIKeyPath != "" {
		if _, err := os.Stat(r.APIKeyPath); os.IsNotExist(err) {
			return errors.Wrap(err, "API key path does not exist")
		}
	}
	return nil
}

func (s *Source) Validate() error {
	if strings.TrimSpace(s.Query) == "" {
		s.Query = DefaultSourceQuery
	}
	if strings.TrimSpace(s.SerialField) == "" {
		s.SerialField = DefaultSourceSerialField
	}
	return nil
}

func (s *Server) Validate() error {
	if s.Port == 0 {
		s.Port = DefaultServerPort
	}
	if s.RetainedRuns < 0 {
		return errors.New("server.retained_runs must not be negative")
	}
	return nil
}

func (d *Database) Validate() error {
	if d.DSN == "" {
		d.DSN = DefaultDatabaseDSN
	}
	return nil
}

// ProcessingConfig converts the processing section for the processor.
func (s *Settings) ProcessingConfig() types.ProcessingConfig {
	return types.ProcessingConfig{
		ChunkSize:          s.Processing.ChunkSize,
		Concurrency:        s.Processing.Concurrency,
		RetryAttempts:      s.Processing.RetryAttempts,
		RetryDelayBase:     s.Processing.RetryDelayBase,
		PauseBetweenChunks: s.Processing.PauseBetweenChunks,
		Backoff:            types.BackoffStrategy(s.Processing.Backoff),
		CancelInFlight:     s.Processing.CancelInFlight,
		SkipUnresolved:     s.Processing.SkipUnresolved,
	}
}

func isValidURL(uri string) bool {
	u, err := url.ParseRequestURI(uri)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (s *Settings) ToYAML() ([]byte, error) {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode into yaml: %w", err)
	}
	return raw, nil
}

// ToBytes returns a serialized representation of the data in the class
func (s *Settings) ToBytes() ([]byte, error) {
	return s.ToYAML()
}
