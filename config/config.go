// Package config binds the certification core's runtime tunables to
// command-line flags and config-file keys, following the teacher
// corpus's runtime/registry/config.go pattern: a package-level pflag
// FlagSet registered in init(), read back through viper into a typed
// Config at startup.
package config

import (
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// CfgGCacheName names the on-disk page directory (§4.6).
	CfgGCacheName = "gcache.name"
	// CfgGCacheSize bounds the heap-tier (mem store) budget in bytes.
	CfgGCacheSize = "gcache.size"
	// CfgGCacheRingSize bounds the ring-buffer tier in bytes.
	CfgGCacheRingSize = "gcache.ring_size"
	// CfgGCachePageSize is the size of each page-store file in bytes.
	CfgGCachePageSize = "gcache.page_size"
	// CfgGCacheKeepPagesSize is the page store's soft retention budget.
	CfgGCacheKeepPagesSize = "gcache.keep_pages_size"
	// CfgGCacheKeepPlaintextSize is the encrypted-mode plaintext shadow
	// cache's soft budget.
	CfgGCacheKeepPlaintextSize = "gcache.keep_plaintext_size"
	// CfgGCacheRecover enables the page-store recovery scan at startup.
	CfgGCacheRecover = "gcache.recover"
	// CfgGCacheDebug raises the gcache module's log level to debug.
	CfgGCacheDebug = "gcache.debug"
	// CfgGCacheEncrypt turns on at-rest page encryption.
	CfgGCacheEncrypt = "gcache.encrypt"

	// CfgCertPARangeLimit is the certification index's PA (parallel
	// applying) trail-window limit in seqnos (§4.5).
	CfgCertPARangeLimit = "cert.pa_range_limit"

	// CfgGCSFCLimit is the upstream flow-control high watermark: the
	// number of queued actions before this node signals PAUSED.
	CfgGCSFCLimit = "gcs.fc_limit"
	// CfgGCSFCFactor is the flow-control low watermark, expressed as a
	// fraction of fc_limit at which PAUSED is lifted.
	CfgGCSFCFactor = "gcs.fc_factor"
	// CfgGCSRecvQHardLimit hard-caps the receive queue before the node
	// aborts rather than risk unbounded memory growth.
	CfgGCSRecvQHardLimit = "gcs.recv_q_hard_limit"
	// CfgGCSMaxPacketSize bounds a single gcs packet.
	CfgGCSMaxPacketSize = "gcs.max_packet_size"

	// CfgLogLevel sets the default logging.Level.
	CfgLogLevel = "log.level"
)

// Flags is the certification core's pflag.FlagSet; callers Parse() it (or
// merge it into a parent command's flag set) and then call Load.
var Flags = flag.NewFlagSet("", flag.ContinueOnError)

// GCacheConfig mirrors gcache.Config's tunables (§4.6, §5 "Memory").
type GCacheConfig struct {
	Name               string
	Size               int
	RingSize           int
	PageSize           int
	KeepPagesSize      int
	KeepPlaintextSize  uint64
	Recover            bool
	Debug              bool
	Encrypt            bool
}

// CertConfig mirrors cert.Engine's tunables (§4.5).
type CertConfig struct {
	PARangeLimit int64
}

// GCSConfig carries the flow-control passthrough options (§5 "Flow
// control", out of this module's own scope but consumed by callers
// wiring the replicator against a transport).
type GCSConfig struct {
	FCLimit         int
	FCFactor        float64
	RecvQHardLimit  int
	MaxPacketSize   int
}

// Config is the certification core's full runtime configuration.
type Config struct {
	GCache   GCacheConfig
	Cert     CertConfig
	GCS      GCSConfig
	LogLevel string
}

func init() {
	Flags.String(CfgGCacheName, "galera.cache", "GCache page directory/file name prefix")
	Flags.Int(CfgGCacheSize, 128<<20, "GCache heap-tier (mem store) budget in bytes")
	Flags.Int(CfgGCacheRingSize, 256<<20, "GCache ring-buffer tier size in bytes")
	Flags.Int(CfgGCachePageSize, 128<<20, "GCache page-store file size in bytes")
	Flags.Int(CfgGCacheKeepPagesSize, 1<<30, "GCache page-store soft retention budget in bytes")
	Flags.Uint64(CfgGCacheKeepPlaintextSize, 64<<20, "GCache plaintext shadow cache soft budget in bytes (encrypted mode only)")
	Flags.Bool(CfgGCacheRecover, false, "Scan the page store and rebuild the seqno index at startup")
	Flags.Bool(CfgGCacheDebug, false, "Raise the gcache module's log level to debug")
	Flags.Bool(CfgGCacheEncrypt, false, "Enable at-rest page encryption")

	Flags.Int64(CfgCertPARangeLimit, 16384, "Certification index PA trail-window limit, in seqnos")

	Flags.Int(CfgGCSFCLimit, 16384, "Flow control high watermark (queued actions)")
	Flags.Float64(CfgGCSFCFactor, 0.5, "Flow control low watermark, as a fraction of fc_limit")
	Flags.Int(CfgGCSRecvQHardLimit, 1<<20, "Receive queue hard limit before aborting")
	Flags.Int(CfgGCSMaxPacketSize, 64<<20, "Maximum single gcs packet size in bytes")

	Flags.String(CfgLogLevel, "warn", "Default log level (debug, info, warn, error)")

	_ = viper.BindPFlags(Flags)
}

// Load reads the bound flags back out of viper into a Config, validating
// cross-field constraints the flag parser alone cannot express.
func Load() (*Config, error) {
	var cfg Config

	cfg.GCache = GCacheConfig{
		Name:              viper.GetString(CfgGCacheName),
		Size:              viper.GetInt(CfgGCacheSize),
		RingSize:          viper.GetInt(CfgGCacheRingSize),
		PageSize:          viper.GetInt(CfgGCachePageSize),
		KeepPagesSize:     viper.GetInt(CfgGCacheKeepPagesSize),
		KeepPlaintextSize: viper.GetUint64(CfgGCacheKeepPlaintextSize),
		Recover:           viper.GetBool(CfgGCacheRecover),
		Debug:             viper.GetBool(CfgGCacheDebug),
		Encrypt:           viper.GetBool(CfgGCacheEncrypt),
	}
	if cfg.GCache.Size < 0 || cfg.GCache.RingSize < 0 || cfg.GCache.PageSize <= 0 {
		return nil, fmt.Errorf("config: gcache tier sizes must be non-negative, and page_size must be positive")
	}

	cfg.Cert = CertConfig{
		PARangeLimit: viper.GetInt64(CfgCertPARangeLimit),
	}
	if cfg.Cert.PARangeLimit < 0 {
		return nil, fmt.Errorf("config: cert.pa_range_limit must be non-negative")
	}

	cfg.GCS = GCSConfig{
		FCLimit:        viper.GetInt(CfgGCSFCLimit),
		FCFactor:       viper.GetFloat64(CfgGCSFCFactor),
		RecvQHardLimit: viper.GetInt(CfgGCSRecvQHardLimit),
		MaxPacketSize:  viper.GetInt(CfgGCSMaxPacketSize),
	}
	if cfg.GCS.FCFactor <= 0 || cfg.GCS.FCFactor >= 1 {
		return nil, fmt.Errorf("config: gcs.fc_factor must be in (0, 1)")
	}

	cfg.LogLevel = viper.GetString(CfgLogLevel)

	return &cfg, nil
}

// ParseDuration is a small helper kept for config keys expressed as
// durations elsewhere in the replicator layer (e.g. monitor drain
// timeouts), mirroring viper.GetDuration's parsing for flags that aren't
// registered through this package's FlagSet.
func ParseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}
