package types

import (
	"time"
)

const (
	StageDevelopment = "development"
	StageProduction  = "production"
)

type ConfigManager interface {
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name      string           `yaml:"name" json:"name" validate:"required"`
	Version   string           `yaml:"version" json:"version" validate:"required"`
	Stage     string           `yaml:"stage" json:"stage" validate:"oneof=development production"`
	Server    *ServerConfig    `yaml:"server" json:"server"`
	Logger    *LoggerConfig    `yaml:"logger" json:"logger"`
	Cache     *CacheConfig     `yaml:"cache" json:"cache"`
	Resources *ResourcesConfig `yaml:"resources" json:"resources"`
	Cron      *CronConfig      `yaml:"cron" json:"cron"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health    *HealthConfig    `yaml:"health" json:"health"`
}

func (c *ServiceConfig) IsDevelopment() bool {
	return c != nil && c.Stage == StageDevelopment
}

type ServerConfig struct {
	HTTP        *HTTPConfig        `yaml:"http" json:"http"`
	TLS         *TLSConfig         `yaml:"tls" json:"tls"`
	Compression *CompressionConfig `yaml:"compression" json:"compression"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type TLSConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	CertFile      string   `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile       string   `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	AutoCert      bool     `yaml:"auto_cert" json:"auto_cert"`
	Domains       []string `yaml:"domains,omitempty" json:"domains,omitempty"`
	Email         string   `yaml:"email,omitempty" json:"email,omitempty"`
	CacheDir      string   `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	ACMEDirectory string   `yaml:"acme_directory,omitempty" json:"acme_directory,omitempty"`
}

type CompressionConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Algorithm    string   `yaml:"algorithm" json:"algorithm" validate:"omitempty,oneof=gzip br"`
	Level        int      `yaml:"level" json:"level" validate:"min=0,max=11"`
	Threshold    int      `yaml:"threshold" json:"threshold" validate:"min=0"`
	AllowedTypes []string `yaml:"allowed_types" json:"allowed_types"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

// CacheConfig describes the shared resource cache. Env is handed to the
// selected factory unchanged; Factory, PropertiesFile and ServiceDirs feed
// the factory discovery chain.
type CacheConfig struct {
	Name           string                 `yaml:"name" json:"name" validate:"required"`
	Factory        string                 `yaml:"factory" json:"factory"`
	Env            map[string]interface{} `yaml:"env" json:"env"`
	PropertiesFile string                 `yaml:"properties_file" json:"properties_file"`
	ServiceDirs    []string               `yaml:"service_dirs" json:"service_dirs"`
	SweepSchedule  string                 `yaml:"sweep_schedule" json:"sweep_schedule"`
}

type ResourcesConfig struct {
	Prefix        string            `yaml:"prefix" json:"prefix" validate:"required,startswith=/"`
	MappingSuffix string            `yaml:"mapping_suffix" json:"mapping_suffix"`
	Codec         string            `yaml:"codec" json:"codec" validate:"oneof=default legacy"`
	Version       string            `yaml:"version" json:"version"`
	Allowed       []string          `yaml:"allowed" json:"allowed"`
	WebRoot       string            `yaml:"web_root" json:"web_root"`
	ClasspathDirs []string          `yaml:"classpath_dirs" json:"classpath_dirs"`
	StaticPrefix  string            `yaml:"static_prefix" json:"static_prefix"`
	Skin          map[string]string `yaml:"skin" json:"skin"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{} `yaml:"config" json:"config"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type VersionInfo struct {
	Version         string `json:"version"`
	ResourceVersion string `json:"resource_version,omitempty"`
	BuildInfo       string `json:"build_info"`
}

const DefaultShutdownTimeout = 10 * time.Second
