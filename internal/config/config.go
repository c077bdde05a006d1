// Package config loads the PixelForge configuration file shared by the
// edge, forge, and etl binaries. It is adapted from
// gravwell/ingest/config: a bounded-size file read followed by
// gcfg.ReadStringInto, then a Verify pass that fills defaults and
// rejects inconsistent values.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gravwell/gcfg"
)

const (
	kb = 1024
	mb = 1024 * kb

	maxConfigSize int64 = 4 * mb

	defaultQueueCapacity        = 8192
	defaultBatchSize            = 500
	defaultShutdownTimeoutSecs  = 10
	defaultBulkCopyTimeoutSecs  = 30
	defaultPipeName             = `pixelforge.pipe`
	defaultFailoverDirectory    = `/var/spool/pixelforge/failover`
	defaultIpApiSyncHourUtc     = 3
	defaultDispatchRetryBackoff = `250ms`
	defaultGeoCacheWarmSize     = 100000
	defaultGeoCacheWarmTTL      = `1h`
	defaultReverseDNSTimeout    = `250ms`
	defaultWhoisTimeout         = `2s`
	defaultLogLevel             = `INFO`
)

const (
	envConnString = `PIXELFORGE_CONNECTION_STRING`
	envLogLevel   = `PIXELFORGE_LOG_LEVEL`
)

var (
	ErrConfigFileTooLarge = errors.New("config file is too large")
	ErrMissingPipeName    = errors.New("Pipe-Name value missing")
	ErrMissingConnString  = errors.New("Connection-String value missing")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidQueueCap    = errors.New("Queue-Capacity must be positive")
	ErrInvalidBatchSize   = errors.New("Batch-Size must be positive")
	ErrInvalidAllowedIP   = errors.New("invalid entry in Dashboard-Allowed-IP")
	ErrInvalidSyncHour    = errors.New("Ip-Api-Sync-Hour-Utc must be in [0,23]")
	ErrMissingFailoverDir = errors.New("Failover-Directory value missing")
)

// Global holds the settings common to every PixelForge process. It is
// gcfg-tagged: field names map directly to `Key-Name = value` lines under
// the `[Global]` stanza of the config file.
type Global struct {
	Log_Level                 string
	Log_File                  string
	Connection_String         string
	Pipe_Name                 string
	Pipe_Secret               string
	Failover_Directory        string
	Queue_Capacity            int
	Batch_Size                int
	Shutdown_Timeout_Seconds  int
	Bulk_Copy_Timeout_Seconds int
	Dispatch_Retry_Backoff    string
	Geo_Cache_Warm_Size       int
	Geo_Cache_Warm_TTL        string
	Reverse_DNS_Timeout       string
	Whois_Timeout             string
	Ip_Api_Sync_Hour_Utc      int
	Dashboard_Allowed_IP      []string
	MaxMind_City_DB_Path      string
	MaxMind_ISP_DB_Path       string
	Datacenter_CIDR_Feed_Path string
	Script_Template_Path      string
}

// cfgReadType is the gcfg decode target; gcfg expects a `[Global]` stanza
// mapping onto the Global struct embedded here.
type cfgReadType struct {
	Global Global
}

// Config is the fully loaded, verified configuration.
type Config struct {
	Global
}

// Load reads, decodes, and verifies the config file at path.
func Load(path string) (*Config, error) {
	fin, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fin.Close()
	fi, err := fin.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}
	content := make([]byte, fi.Size())
	n, err := fin.Read(content)
	if err != nil {
		return nil, err
	} else if int64(n) != fi.Size() {
		return nil, errors.New("failed to read entire config file")
	}

	var cr cfgReadType
	if err := gcfg.ReadStringInto(&cr, string(content)); err != nil {
		return nil, err
	}
	c := &Config{Global: cr.Global}
	if err := c.Verify(); err != nil {
		return nil, err
	}
	return c, nil
}

// Verify fills in defaults and validates the loaded configuration.
func (c *Config) Verify() error {
	if err := LoadEnvVar(&c.Connection_String, envConnString, ``); err != nil {
		return err
	}
	if err := LoadEnvVar(&c.Log_Level, envLogLevel, defaultLogLevel); err != nil {
		return err
	}
	c.Log_Level = strings.ToUpper(strings.TrimSpace(c.Log_Level))
	if err := c.checkLogLevel(); err != nil {
		return err
	}

	if c.Connection_String == `` {
		return ErrMissingConnString
	}
	if c.Pipe_Name == `` {
		c.Pipe_Name = defaultPipeName
	}
	if c.Pipe_Secret == `` {
		c.Pipe_Secret = c.Connection_String
	}
	if c.Failover_Directory == `` {
		c.Failover_Directory = defaultFailoverDirectory
	}
	if err := os.MkdirAll(c.Failover_Directory, 0750); err != nil {
		return err
	}
	if c.Queue_Capacity == 0 {
		c.Queue_Capacity = defaultQueueCapacity
	} else if c.Queue_Capacity < 0 {
		return ErrInvalidQueueCap
	}
	if c.Batch_Size == 0 {
		c.Batch_Size = defaultBatchSize
	} else if c.Batch_Size < 0 {
		return ErrInvalidBatchSize
	}
	if c.Shutdown_Timeout_Seconds == 0 {
		c.Shutdown_Timeout_Seconds = defaultShutdownTimeoutSecs
	}
	if c.Bulk_Copy_Timeout_Seconds == 0 {
		c.Bulk_Copy_Timeout_Seconds = defaultBulkCopyTimeoutSecs
	}
	if c.Dispatch_Retry_Backoff == `` {
		c.Dispatch_Retry_Backoff = defaultDispatchRetryBackoff
	}
	if _, err := time.ParseDuration(c.Dispatch_Retry_Backoff); err != nil {
		return fmt.Errorf("invalid Dispatch-Retry-Backoff: %w", err)
	}
	if c.Geo_Cache_Warm_Size == 0 {
		c.Geo_Cache_Warm_Size = defaultGeoCacheWarmSize
	}
	if c.Geo_Cache_Warm_TTL == `` {
		c.Geo_Cache_Warm_TTL = defaultGeoCacheWarmTTL
	}
	if _, err := time.ParseDuration(c.Geo_Cache_Warm_TTL); err != nil {
		return fmt.Errorf("invalid Geo-Cache-Warm-TTL: %w", err)
	}
	if c.Reverse_DNS_Timeout == `` {
		c.Reverse_DNS_Timeout = defaultReverseDNSTimeout
	}
	if _, err := time.ParseDuration(c.Reverse_DNS_Timeout); err != nil {
		return fmt.Errorf("invalid Reverse-DNS-Timeout: %w", err)
	}
	if c.Whois_Timeout == `` {
		c.Whois_Timeout = defaultWhoisTimeout
	}
	if _, err := time.ParseDuration(c.Whois_Timeout); err != nil {
		return fmt.Errorf("invalid Whois-Timeout: %w", err)
	}
	if c.Ip_Api_Sync_Hour_Utc == 0 {
		c.Ip_Api_Sync_Hour_Utc = defaultIpApiSyncHourUtc
	}
	if c.Ip_Api_Sync_Hour_Utc < 0 || c.Ip_Api_Sync_Hour_Utc > 23 {
		return ErrInvalidSyncHour
	}
	for _, ip := range c.Dashboard_Allowed_IP {
		if net.ParseIP(ip) == nil {
			return ErrInvalidAllowedIP
		}
	}
	return nil
}

func (c *Config) checkLogLevel() error {
	switch c.Log_Level {
	case `OFF`, `DEBUG`, `INFO`, `WARN`, `ERROR`, `CRITICAL`, `FATAL`:
		return nil
	}
	return ErrInvalidLogLevel
}

// ShutdownTimeout returns the configured graceful-shutdown drain window.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown_Timeout_Seconds) * time.Second
}

// BulkCopyTimeout returns the per-batch CopyFrom deadline.
func (c *Config) BulkCopyTimeout() time.Duration {
	return time.Duration(c.Bulk_Copy_Timeout_Seconds) * time.Second
}

// DispatchRetryBackoff returns the parsed dispatcher reconnect backoff.
func (c *Config) DispatchRetryBackoff() time.Duration {
	d, _ := time.ParseDuration(c.Dispatch_Retry_Backoff)
	return d
}

// GeoCacheWarmTTL returns the parsed warm geo cache entry lifetime.
func (c *Config) GeoCacheWarmTTL() time.Duration {
	d, _ := time.ParseDuration(c.Geo_Cache_Warm_TTL)
	return d
}

// ReverseDNSTimeout returns the parsed per-lookup reverse DNS budget
// (enrichment 10, spec.md §4.C/§5: bounded at 250ms).
func (c *Config) ReverseDNSTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Reverse_DNS_Timeout)
	return d
}

// WhoisTimeout returns the parsed per-lookup WHOIS budget (enrichment 12,
// spec.md §4.C/§5: bounded at 2s).
func (c *Config) WhoisTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Whois_Timeout)
	return d
}

// LoadEnvVar reads cnd from the environment if unset, falling back to
// envName_FILE (read the first line of the named file), then defVal.
func LoadEnvVar(cnd *string, envName, defVal string) error {
	if cnd == nil {
		return ErrInvalidAllowedIP
	} else if len(*cnd) > 0 || envName == `` {
		return nil
	}
	if v := os.Getenv(envName); v != `` {
		*cnd = v
		return nil
	}
	*cnd = defVal
	filename := os.Getenv(envName + `_FILE`)
	if filename == `` {
		return nil
	}
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	s := bufio.NewScanner(file)
	s.Scan()
	if l := s.Text(); l != `` {
		*cnd = l
	}
	return nil
}

// LogFilePath returns the configured log file, defaulting to a path
// alongside the failover directory if unset.
func (c *Config) LogFilePath() string {
	if c.Log_File != `` {
		return c.Log_File
	}
	return filepath.Join(c.Failover_Directory, `pixelforge.log`)
}
