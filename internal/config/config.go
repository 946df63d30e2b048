package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/devblac/erc20-watch/internal/format"
	"github.com/devblac/erc20-watch/internal/transfer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Global    GlobalConfig    `yaml:"global"`
	Source    Source          `yaml:"source"`
	Processor ProcessorConfig `yaml:"processor"`
	Filter    Filter          `yaml:"filter"`
	Tokens    []Token         `yaml:"tokens"`
	Sinks     []Sink          `yaml:"sinks"`
}

type GlobalConfig struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
}

type Source struct {
	ID            string `yaml:"id"`
	RPCURL        string `yaml:"rpc_url"`
	StartBlock    string `yaml:"start_block"`
	StopBlock     uint64 `yaml:"stop_block"`
	Confirmations uint64 `yaml:"confirmations"`
	BatchSize     uint64 `yaml:"batch_size"`
	PollInterval  string `yaml:"poll_interval"`
	ReorgDepth    uint64 `yaml:"reorg_depth"`
	MaxRetries    *int   `yaml:"max_retries"`
	RetryBackoff  string `yaml:"retry_backoff"`
	// ResolveTokens looks up symbol and decimals on-chain for tokens that omit them.
	ResolveTokens bool `yaml:"resolve_tokens"`
}

type ProcessorConfig struct {
	MissingReceiptsAlarm int `yaml:"missing_receipts_alarm"`
}

type Filter struct {
	Type      string   `yaml:"type"`
	Threshold string   `yaml:"threshold"`
	Tokens    []string `yaml:"tokens"`
	Addresses []string `yaml:"addresses"`
}

type Token struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals *uint8 `yaml:"decimals"`
}

type Dedupe struct {
	Key string `yaml:"key"`
	TTL string `yaml:"ttl"`
}

type Sink struct {
	ID         string  `yaml:"id"`
	Type       string  `yaml:"type"`
	WebhookURL string  `yaml:"webhook_url"`
	Template   string  `yaml:"template"`
	URL        string  `yaml:"url"`
	Method     string  `yaml:"method"`
	Stream     string  `yaml:"stream"`
	Subject    string  `yaml:"subject"`
	Dedupe     *Dedupe `yaml:"dedupe,omitempty"`
}

const (
	DefaultDBPath       = "erc20-watch.db"
	DefaultPollInterval = 12 * time.Second
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultMaxRetries   = 3
)

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(raw)
}

// Parse interpolates env vars in raw YAML, decodes it, and validates.
func Parse(raw []byte) (*Config, error) {
	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate performs small, direct schema checks and fills defaults.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.Global.DBPath == "" {
		c.Global.DBPath = DefaultDBPath
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source %s: %w", c.Source.ID, err)
	}
	if c.Processor.MissingReceiptsAlarm < 0 {
		return errors.New("processor.missing_receipts_alarm must not be negative")
	}
	if _, err := c.TransferFilter(); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	for i, t := range c.Tokens {
		if err := t.Validate(c.Source.ResolveTokens); err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
	}
	if len(c.Sinks) == 0 {
		return errors.New("at least one sink is required")
	}

	sinkIDs := map[string]struct{}{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}

	return nil
}

func (s *Source) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if _, err := parseDuration(s.PollInterval, DefaultPollInterval); err != nil {
		return fmt.Errorf("poll_interval: %w", err)
	}
	if _, err := parseDuration(s.RetryBackoff, DefaultRetryBackoff); err != nil {
		return fmt.Errorf("retry_backoff: %w", err)
	}
	if s.MaxRetries != nil && *s.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	return nil
}

// PollEvery returns the poll interval, defaulting to 12s.
func (s Source) PollEvery() time.Duration {
	d, _ := parseDuration(s.PollInterval, DefaultPollInterval)
	return d
}

// Backoff returns the base retry delay, defaulting to 500ms.
func (s Source) Backoff() time.Duration {
	d, _ := parseDuration(s.RetryBackoff, DefaultRetryBackoff)
	return d
}

// Retries returns max_retries, defaulting to 3 when unset.
func (s Source) Retries() int {
	if s.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *s.MaxRetries
}

// TransferFilter builds the configured filter policy.
func (c *Config) TransferFilter() (transfer.Filter, error) {
	addrs := c.Filter.Addresses
	if strings.EqualFold(strings.TrimSpace(c.Filter.Type), "specific_tokens") {
		addrs = c.Filter.Tokens
	}
	return transfer.ParseFilter(c.Filter.Type, c.Filter.Threshold, addrs)
}

func (t *Token) Validate(resolvable bool) error {
	if !common.IsHexAddress(t.Address) {
		return fmt.Errorf("invalid address %q", t.Address)
	}
	if !resolvable && (t.Symbol == "" || t.Decimals == nil) {
		return errors.New("symbol and decimals are required unless source.resolve_tokens is set")
	}
	return nil
}

// Complete reports whether the entry carries its own symbol and decimals.
func (t Token) Complete() bool {
	return t.Symbol != "" && t.Decimals != nil
}

// Registry builds the display registry from the complete token entries.
func (c *Config) Registry(extra ...format.Token) *format.Registry {
	tokens := make([]format.Token, 0, len(c.Tokens)+len(extra))
	for _, t := range c.Tokens {
		if !t.Complete() {
			continue
		}
		tokens = append(tokens, format.Token{
			Address:  common.HexToAddress(t.Address),
			Symbol:   t.Symbol,
			Decimals: *t.Decimals,
		})
	}
	return format.NewRegistry(append(tokens, extra...)...)
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "log", "sqlite":
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	case "nats":
		if s.Subject == "" {
			return errors.New("subject is required for nats sink")
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}

	if s.Dedupe != nil {
		if s.Dedupe.Key == "" || s.Dedupe.TTL == "" {
			return errors.New("dedupe.key and dedupe.ttl are required when dedupe is set")
		}
		if _, err := time.ParseDuration(s.Dedupe.TTL); err != nil {
			return fmt.Errorf("dedupe.ttl: %w", err)
		}
	}
	return nil
}

// DedupeTTL returns the parsed dedupe TTL, zero when dedupe is off.
func (s Sink) DedupeTTL() time.Duration {
	if s.Dedupe == nil {
		return 0
	}
	d, _ := time.ParseDuration(s.Dedupe.TTL)
	return d
}

func parseDuration(v string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", v)
	}
	return d, nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
