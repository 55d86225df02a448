package utils

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/peersync/utils/log"
)

const (
	defaultListenURL         = "0.0.0.0:8080"
	defaultNotifyChannel     = "record_changes"
	defaultSendQueueSize     = 500
	defaultRetryInterval     = 500 * time.Millisecond
	defaultRetryMaxInterval  = 30 * time.Second
	defaultRetryBackoffCoeff = 2
	defaultPingInterval      = 20 * time.Second
	defaultRefreshInterval   = 30 * time.Second
	defaultMonitorInterval   = time.Minute
	defaultStopGracePeriod   = 2 * time.Second
	defaultMaxConns          = 10

	WireFormatJSON    = "json"
	WireFormatMsgpack = "msgpack"

	DeletePolicyUnconditional = "unconditional"
	DeletePolicyVersionGated  = "version_gated"

	DiscoveryStatic = "static"
	DiscoveryDNS    = "dns"
)

// Config is the parsed form of the peersync YAML configuration file.
type Config struct {
	InstanceID       string
	ListenURL        string
	AdvertiseAddress string
	LogLevel         log.Level
	StopGracePeriod  time.Duration
	StartTime        time.Time
	Database         DatabaseSetting
	Replication      ReplicationSetting
	Discovery        DiscoverySetting
	MonitorInterval  time.Duration
}

type DatabaseSetting struct {
	URL      string
	MaxConns int32
}

type ReplicationSetting struct {
	Channel           string
	WireFormat        string
	SendQueueSize     int
	DeletePolicy      string
	AllowedPeers      []string
	RetryInterval     time.Duration
	RetryMaxInterval  time.Duration
	RetryBackoffCoeff int
	PingInterval      time.Duration
}

type DiscoverySetting struct {
	Mode            string
	ServiceName     string
	Peers           []string
	Port            int
	RefreshInterval time.Duration
}

// ParseConfig parses YAML data, applies defaults and environment overrides
// (PEERSYNC_DATABASE_URL, PEERSYNC_INSTANCE_ID) and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var aux struct {
		InstanceID       string `yaml:"instance_id"`
		ListenURL        string `yaml:"listen_url"`
		AdvertiseAddress string `yaml:"advertise_address"`
		LogLevel         string `yaml:"log_level"`
		StopGracePeriod  int    `yaml:"stop_grace_period"`
		MonitorInterval  string `yaml:"monitor_interval"`
		Database         struct {
			URL      string `yaml:"url"`
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Name     string `yaml:"name"`
			SSLMode  string `yaml:"sslmode"`
			MaxConns int32  `yaml:"max_conns"`
		} `yaml:"database"`
		Replication struct {
			Channel           string   `yaml:"channel"`
			WireFormat        string   `yaml:"wire_format"`
			SendQueueSize     int      `yaml:"send_queue_size"`
			DeletePolicy      string   `yaml:"delete_policy"`
			AllowedPeers      []string `yaml:"allowed_peers"`
			RetryInterval     string   `yaml:"retry_interval"`
			RetryMaxInterval  string   `yaml:"retry_max_interval"`
			RetryBackoffCoeff int      `yaml:"retry_backoff_coeff"`
			PingInterval      string   `yaml:"ping_interval"`
		} `yaml:"replication"`
		Discovery struct {
			Mode            string   `yaml:"mode"`
			ServiceName     string   `yaml:"service_name"`
			Peers           []string `yaml:"peers"`
			Port            int      `yaml:"port"`
			RefreshInterval string   `yaml:"refresh_interval"`
		} `yaml:"discovery"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml config")
	}

	c := &Config{
		InstanceID:       aux.InstanceID,
		ListenURL:        aux.ListenURL,
		AdvertiseAddress: aux.AdvertiseAddress,
		LogLevel:         log.ParseLevel(aux.LogLevel),
		StopGracePeriod:  defaultStopGracePeriod,
		StartTime:        time.Now(),
	}
	if c.ListenURL == "" {
		c.ListenURL = defaultListenURL
	}
	if aux.StopGracePeriod > 0 {
		c.StopGracePeriod = time.Duration(aux.StopGracePeriod) * time.Second
	}

	var err error
	if c.MonitorInterval, err = parseDuration(aux.MonitorInterval, defaultMonitorInterval); err != nil {
		return nil, errors.Wrap(err, "monitor_interval")
	}

	// database
	c.Database.URL = aux.Database.URL
	if v := os.Getenv("PEERSYNC_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if c.Database.URL == "" && aux.Database.Host != "" {
		c.Database.URL = buildDatabaseURL(aux.Database.Host, aux.Database.Port, aux.Database.User,
			aux.Database.Password, aux.Database.Name, aux.Database.SSLMode)
	}
	if c.Database.URL == "" {
		return nil, errors.New("database url or host must be set")
	}
	c.Database.MaxConns = aux.Database.MaxConns
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = defaultMaxConns
	}

	if v := os.Getenv("PEERSYNC_INSTANCE_ID"); v != "" {
		c.InstanceID = v
	}

	// replication
	r := aux.Replication
	c.Replication = ReplicationSetting{
		Channel:           r.Channel,
		WireFormat:        strings.ToLower(r.WireFormat),
		SendQueueSize:     r.SendQueueSize,
		DeletePolicy:      strings.ToLower(r.DeletePolicy),
		AllowedPeers:      r.AllowedPeers,
		RetryBackoffCoeff: r.RetryBackoffCoeff,
	}
	if c.Replication.Channel == "" {
		c.Replication.Channel = defaultNotifyChannel
	}
	switch c.Replication.WireFormat {
	case "":
		c.Replication.WireFormat = WireFormatJSON
	case WireFormatJSON, WireFormatMsgpack:
	default:
		return nil, fmt.Errorf("invalid wire_format %q, expected %q or %q",
			r.WireFormat, WireFormatJSON, WireFormatMsgpack)
	}
	switch c.Replication.DeletePolicy {
	case "":
		c.Replication.DeletePolicy = DeletePolicyUnconditional
	case DeletePolicyUnconditional, DeletePolicyVersionGated:
	default:
		return nil, fmt.Errorf("invalid delete_policy %q, expected %q or %q",
			r.DeletePolicy, DeletePolicyUnconditional, DeletePolicyVersionGated)
	}
	if c.Replication.SendQueueSize <= 0 {
		c.Replication.SendQueueSize = defaultSendQueueSize
	}
	if c.Replication.RetryBackoffCoeff <= 0 {
		c.Replication.RetryBackoffCoeff = defaultRetryBackoffCoeff
	}
	if c.Replication.RetryInterval, err = parseDuration(r.RetryInterval, defaultRetryInterval); err != nil {
		return nil, errors.Wrap(err, "replication.retry_interval")
	}
	if c.Replication.RetryMaxInterval, err = parseDuration(r.RetryMaxInterval, defaultRetryMaxInterval); err != nil {
		return nil, errors.Wrap(err, "replication.retry_max_interval")
	}
	if c.Replication.RetryMaxInterval < c.Replication.RetryInterval {
		c.Replication.RetryMaxInterval = c.Replication.RetryInterval
	}
	if c.Replication.PingInterval, err = parseDuration(r.PingInterval, defaultPingInterval); err != nil {
		return nil, errors.Wrap(err, "replication.ping_interval")
	}

	// discovery
	d := aux.Discovery
	c.Discovery = DiscoverySetting{
		Mode:        strings.ToLower(d.Mode),
		ServiceName: d.ServiceName,
		Peers:       d.Peers,
		Port:        d.Port,
	}
	switch c.Discovery.Mode {
	case "":
		c.Discovery.Mode = DiscoveryStatic
	case DiscoveryStatic:
	case DiscoveryDNS:
		if c.Discovery.ServiceName == "" || c.Discovery.Port == 0 {
			return nil, errors.New("discovery.service_name and discovery.port are required for dns discovery")
		}
	default:
		return nil, fmt.Errorf("invalid discovery mode %q", d.Mode)
	}
	if c.Discovery.RefreshInterval, err = parseDuration(d.RefreshInterval, defaultRefreshInterval); err != nil {
		return nil, errors.Wrap(err, "discovery.refresh_interval")
	}

	return c, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", s)
	}
	return d, nil
}

func buildDatabaseURL(host string, port int, user, password, name, sslmode string) string {
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + name,
	}
	if user != "" {
		if password != "" {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
	}
	if sslmode != "" {
		u.RawQuery = url.Values{"sslmode": []string{sslmode}}.Encode()
	}
	return u.String()
}
