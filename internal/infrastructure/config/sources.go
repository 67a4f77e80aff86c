package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Source priorities. Lower numbers win.
const (
	PriorityFlags = 0
	PriorityEnv   = 1
	PriorityFile  = 2
)

// Source contributes configuration values. Apply writes the values it
// knows about into cfg and returns the dotted names of the fields it set.
type Source interface {
	Apply(cfg *Config) ([]string, error)
	Priority() int
	Name() string
}

// FileSource reads a YAML or JSON-with-comments file. A missing file
// contributes nothing.
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource for path
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Name() string  { return "file" }
func (s *FileSource) Priority() int { return PriorityFile }

// Apply decodes the file over cfg, so fields absent from the file keep
// their previous value.
func (s *FileSource) Apply(cfg *Config) ([]string, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Decode(s.Path, data, cfg); err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := decodeRaw(s.Path, data, &raw); err != nil {
		return nil, err
	}
	return flattenKeys("", raw), nil
}

// Decode parses data into cfg using the format implied by path's
// extension. YAML files go straight to yaml.v3. Anything else is treated
// as JSON with comments, normalized by jsonc and then decoded with yaml.v3
// so durations such as "5s" work in both formats.
func Decode(path string, data []byte, cfg *Config) error {
	if err := decodeRaw(path, data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func decodeRaw(path string, data []byte, out any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, out)
}

func flattenKeys(prefix string, m map[string]any) []string {
	var keys []string
	for k, v := range m {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			keys = append(keys, flattenKeys(name, nested)...)
			continue
		}
		keys = append(keys, name)
	}
	return keys
}

// EnvSource reads HSI_* environment variables
type EnvSource struct {
	// Lookup defaults to os.LookupEnv
	Lookup func(string) (string, bool)
}

// NewEnvSource creates an EnvSource reading the process environment
func NewEnvSource() *EnvSource {
	return &EnvSource{Lookup: os.LookupEnv}
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return PriorityEnv }

// Apply implements Source
func (s *EnvSource) Apply(cfg *Config) ([]string, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var (
		set  []string
		errs []string
	)
	str := func(key, field string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
			set = append(set, field)
		}
	}
	num := func(key, field string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = i
			set = append(set, field)
		}
	}
	dur := func(key, field string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
			set = append(set, field)
		}
	}
	flag := func(key, field string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
			set = append(set, field)
		}
	}

	str("HSI_API_URL", "api.base_url", &cfg.API.BaseURL)
	str("HSI_API_KEY", "api.api_key", &cfg.API.APIKey)
	dur("HSI_API_TIMEOUT", "api.timeout", &cfg.API.Timeout)
	str("HSI_TRANSPORT", "stream.transport", &cfg.Stream.Transport)
	str("HSI_WS_URL", "stream.websocket_url", &cfg.Stream.WebSocketURL)
	if v, ok := lookup("HSI_TOPICS"); ok && v != "" {
		cfg.Stream.Topics = splitList(v)
		set = append(set, "stream.topics")
	}
	str("HSI_MQTT_BROKER", "stream.mqtt_broker", &cfg.Stream.MQTTBroker)
	str("HSI_MQTT_TOPIC", "stream.mqtt_topic", &cfg.Stream.MQTTTopic)
	dur("HSI_RETRY_INTERVAL", "retry.interval", &cfg.Retry.Interval)
	dur("HSI_RETRY_MAX_INTERVAL", "retry.max_interval", &cfg.Retry.MaxInterval)
	num("HSI_RETRY_MAX_ATTEMPTS", "retry.max_attempts", &cfg.Retry.MaxAttempts)
	dur("HSI_HEARTBEAT_STALE_AFTER", "heartbeat.stale_after", &cfg.Heartbeat.StaleAfter)
	flag("HSI_OFFLINE_ENABLED", "offline.enabled", &cfg.Offline.Enabled)
	str("HSI_OFFLINE_PATH", "offline.path", &cfg.Offline.Path)
	str("HSI_LOG_LEVEL", "log.level", &cfg.Log.Level)
	flag("HSI_LOG_JSON", "log.json", &cfg.Log.JSON)
	if v, ok := lookup("HSI_DEBUG"); ok {
		if b, _ := strconv.ParseBool(v); b {
			cfg.Log.Level = "debug"
			set = append(set, "log.level")
		}
	}

	if len(errs) > 0 {
		return set, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return set, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Overrides carries command line values. Empty fields are not applied.
type Overrides struct {
	APIURL string
	WSURL  string
	Debug  bool
}

// FlagSource applies command line overrides, the highest priority source
type FlagSource struct {
	Overrides Overrides
}

func (s FlagSource) Name() string  { return "flags" }
func (s FlagSource) Priority() int { return PriorityFlags }

// Apply implements Source
func (s FlagSource) Apply(cfg *Config) ([]string, error) {
	var set []string
	if s.Overrides.APIURL != "" {
		cfg.API.BaseURL = s.Overrides.APIURL
		set = append(set, "api.base_url")
	}
	if s.Overrides.WSURL != "" {
		cfg.Stream.WebSocketURL = s.Overrides.WSURL
		set = append(set, "stream.websocket_url")
	}
	if s.Overrides.Debug {
		cfg.Log.Level = "debug"
		set = append(set, "log.level")
	}
	return set, nil
}
