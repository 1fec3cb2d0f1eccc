package minio

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultBucket     = "hull-sql"
	defaultBasePrefix = "extracts"
	defaultTenantID   = "default"
	defaultURLExpiry  = 24 * time.Hour
)

// Config captures the object-store sink configuration.
type Config struct {
	EndpointURL     string        `yaml:"endpoint_url"`
	Region          string        `yaml:"region"`
	UseSSL          bool          `yaml:"use_ssl"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Bucket          string        `yaml:"bucket"`
	BasePrefix      string        `yaml:"base_prefix"`
	TenantID        string        `yaml:"tenant"`
	RootPath        string        `yaml:"root_path"`
	Compress        bool          `yaml:"compress"`
	URLExpiry       time.Duration `yaml:"url_expiry"`
}

// Validate enforces required fields for remote stores. Local file:// stores
// need no credentials.
func (c *Config) Validate() error {
	if c.EndpointURL == "" {
		return storeError("config", CodeEndpointUnreachable, fmt.Errorf("endpoint_url is required"))
	}
	u, err := url.Parse(c.EndpointURL)
	if err != nil {
		return storeError("config", CodeEndpointUnreachable, err)
	}
	if u.Scheme == "file" {
		return nil
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return storeError("config", CodeAuthInvalid, fmt.Errorf("access_key_id and secret_access_key are required"))
	}
	return nil
}

// IsLocal reports whether objects are written to disk instead of S3.
func (c *Config) IsLocal() bool {
	return c.RootPath != "" || strings.HasPrefix(c.EndpointURL, "file://")
}

func (c *Config) normalizeDefaults() {
	if c.Bucket == "" {
		c.Bucket = defaultBucket
	}
	if c.BasePrefix == "" {
		c.BasePrefix = defaultBasePrefix
	}
	c.BasePrefix = strings.Trim(c.BasePrefix, "/")
	if c.TenantID == "" {
		c.TenantID = defaultTenantID
	}
	if c.URLExpiry <= 0 {
		c.URLExpiry = defaultURLExpiry
	}
}

func (c *Config) objectRoot() string {
	if c.RootPath != "" {
		return c.RootPath
	}
	if strings.HasPrefix(c.EndpointURL, "file://") {
		if u, err := url.Parse(c.EndpointURL); err == nil && u.Path != "" {
			return u.Path
		}
	}
	return filepath.Join(os.TempDir(), "hull-sql-objects")
}

// objectKey builds <base>/<tenant>/<destination>/part-000001.json[.gz].
// The destination may span several "/"-separated segments, each sanitized on
// its own.
func (c *Config) objectKey(destinationID string, partNumber int) string {
	name := fmt.Sprintf("part-%06d.json", partNumber)
	if c.Compress {
		name += ".gz"
	}
	parts := []string{c.BasePrefix, sanitizePath(c.TenantID)}
	for _, seg := range strings.Split(destinationID, "/") {
		if seg != "" {
			parts = append(parts, sanitizePath(seg))
		}
	}
	return joinPath(append(parts, name)...)
}

func joinPath(parts ...string) string {
	joined := filepath.ToSlash(filepath.Join(parts...))
	return strings.TrimPrefix(joined, "/")
}

func sanitizePath(raw string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_")
	return replacer.Replace(raw)
}
