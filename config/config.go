/*
Copyright 2025 Docbridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL    bool   `json:"ssl" envconfig:"DOCBRIDGE_SERVER_SSL"`
	Domain string `json:"domain" envconfig:"DOCBRIDGE_SERVER_SSL_DOMAIN"`
	Email  string `json:"ssl_email" envconfig:"DOCBRIDGE_SERVER_SSL_EMAIL"`
	Port   string `json:"port" envconfig:"DOCBRIDGE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"DOCBRIDGE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"DOCBRIDGE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"DOCBRIDGE_REDIS_SKIP_TLS_VERIFY"`
}

// PipelineConfig tunes identification behaviour without a redeploy.
// Factor weights sum to 1.0; the fuzzy weight replaces the exact-name weight
// when only the fuzzy test matches.
type PipelineConfig struct {
	IdentificationThreshold float64 `json:"identification_threshold" envconfig:"DOCBRIDGE_PIPELINE_IDENTIFICATION_THRESHOLD"`
	NameWeight              float64 `json:"name_weight" envconfig:"DOCBRIDGE_PIPELINE_NAME_WEIGHT"`
	CodeWeight              float64 `json:"code_weight" envconfig:"DOCBRIDGE_PIPELINE_CODE_WEIGHT"`
	EmailWeight             float64 `json:"email_weight" envconfig:"DOCBRIDGE_PIPELINE_EMAIL_WEIGHT"`
	PhoneWeight             float64 `json:"phone_weight" envconfig:"DOCBRIDGE_PIPELINE_PHONE_WEIGHT"`
	FuzzyNameWeight         float64 `json:"fuzzy_name_weight" envconfig:"DOCBRIDGE_PIPELINE_FUZZY_NAME_WEIGHT"`
	FuzzyWordRatio          float64 `json:"fuzzy_word_ratio" envconfig:"DOCBRIDGE_PIPELINE_FUZZY_WORD_RATIO"`
	FuzzyDriftPercent       float64 `json:"fuzzy_drift_percent" envconfig:"DOCBRIDGE_PIPELINE_FUZZY_DRIFT_PERCENT"`
	MaxRetries              int     `json:"max_retries" envconfig:"DOCBRIDGE_PIPELINE_MAX_RETRIES"`
	RetryBackoffBaseSec     int     `json:"retry_backoff_base_sec" envconfig:"DOCBRIDGE_PIPELINE_RETRY_BACKOFF_BASE_SEC"`
	RetryBackoffCapSec      int     `json:"retry_backoff_cap_sec" envconfig:"DOCBRIDGE_PIPELINE_RETRY_BACKOFF_CAP_SEC"`
}

type QueueConfig struct {
	StageQueuePrefix    string `json:"stage_queue_prefix" envconfig:"DOCBRIDGE_QUEUE_STAGE_PREFIX"`
	WebhookQueue        string `json:"webhook_queue" envconfig:"DOCBRIDGE_QUEUE_WEBHOOK_QUEUE"`
	MonitoringPort      string `json:"monitoring_port" envconfig:"DOCBRIDGE_QUEUE_MONITORING_PORT"`
	EnableStuckRecovery bool   `json:"enable_stuck_recovery" envconfig:"DOCBRIDGE_QUEUE_ENABLE_STUCK_RECOVERY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"DOCBRIDGE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"DOCBRIDGE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"DOCBRIDGE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName        string           `json:"project_name" envconfig:"DOCBRIDGE_PROJECT_NAME"`
	EnableTelemetry    bool             `json:"enable_telemetry" envconfig:"DOCBRIDGE_ENABLE_TELEMETRY"`
	BackupDir          string           `json:"backup_dir" envconfig:"DOCBRIDGE_BACKUP_DIR"`
	AwsAccessKeyId     string           `json:"aws_access_key_id"`
	AwsSecretAccessKey string           `json:"aws_secret_access_key"`
	S3BucketName       string           `json:"s3_bucket_name"`
	S3Region           string           `json:"s3_region"`
	Server             ServerConfig     `json:"server"`
	DataSource         DataSourceConfig `json:"data_source"`
	Redis              RedisConfig      `json:"redis"`
	Pipeline           PipelineConfig   `json:"pipeline"`
	Queue              QueueConfig      `json:"queue"`
	RateLimit          RateLimitConfig  `json:"rate_limit"`
	Notification       Notification     `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("docbridge", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called docbridge.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Docbridge Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.BackupDir == "" {
		cnf.BackupDir = "backups"
	}

	cnf.Pipeline.applyDefaults()
	cnf.Queue.applyDefaults()

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (p *PipelineConfig) applyDefaults() {
	if p.IdentificationThreshold == 0 {
		p.IdentificationThreshold = 0.80
	}
	if p.NameWeight == 0 && p.CodeWeight == 0 && p.EmailWeight == 0 && p.PhoneWeight == 0 {
		p.NameWeight = 0.40
		p.CodeWeight = 0.30
		p.EmailWeight = 0.20
		p.PhoneWeight = 0.10
	}
	if p.FuzzyNameWeight == 0 {
		p.FuzzyNameWeight = 0.25
	}
	if p.FuzzyWordRatio == 0 {
		p.FuzzyWordRatio = 0.60
	}
	if p.FuzzyDriftPercent == 0 {
		p.FuzzyDriftPercent = 20
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.RetryBackoffBaseSec == 0 {
		p.RetryBackoffBaseSec = 2
	}
	if p.RetryBackoffCapSec == 0 {
		p.RetryBackoffCapSec = 60
	}
}

func (q *QueueConfig) applyDefaults() {
	if q.StageQueuePrefix == "" {
		q.StageQueuePrefix = "new:stage"
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = "new:webhook"
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = "5403"
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.Pipeline.applyDefaults()
	mockConfig.Queue.applyDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
