// Package config loads client and relay settings from an optional YAML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration accepts "1s" style strings or plain seconds in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// SizeBytes accepts "25MB" style strings or plain byte counts in YAML.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = SizeBytes(v)
	return nil
}

type Client struct {
	APIBaseURL     string   `yaml:"api_base_url"`
	WSHost         string   `yaml:"ws_host"`
	Secure         bool     `yaml:"secure"`
	MediaBaseURL   string   `yaml:"media_base_url"`
	MaxReconnect   int      `yaml:"max_reconnect"`
	ReconnectStep  Duration `yaml:"reconnect_step"`
	DedupTolerance Duration `yaml:"dedup_tolerance"`
	LogLevel       string   `yaml:"log_level"`
}

type Relay struct {
	Addr          string    `yaml:"addr"`
	JWTSecret     string    `yaml:"jwt_secret"`
	Users         string    `yaml:"users"`
	ValkeyAddr    string    `yaml:"valkey_addr"`
	PostgresDSN   string    `yaml:"postgres_dsn"`
	UploadDir     string    `yaml:"upload_dir"`
	AllowedOrigin string    `yaml:"allowed_origin"`
	MaxUpload     SizeBytes `yaml:"max_upload"`
	AccessTTL     Duration  `yaml:"access_ttl"`
	LogLevel      string    `yaml:"log_level"`
}

type File struct {
	Client Client `yaml:"client"`
	Relay  Relay  `yaml:"relay"`
}

func DefaultClient() Client {
	return Client{
		APIBaseURL:     "http://127.0.0.1:8000/API/",
		WSHost:         "127.0.0.1:8000",
		MediaBaseURL:   "http://127.0.0.1:8000",
		MaxReconnect:   5,
		ReconnectStep:  Duration(time.Second),
		DedupTolerance: Duration(5 * time.Second),
		LogLevel:       "info",
	}
}

func DefaultRelay() Relay {
	return Relay{
		Addr:          ":8000",
		JWTSecret:     "dev-secret-change-me",
		UploadDir:     "uploaded_files",
		AllowedOrigin: "http://127.0.0.1:5173",
		MaxUpload:     25 << 20,
		AccessTTL:     Duration(15 * time.Minute),
		LogLevel:      "info",
	}
}

// LoadClient returns client settings. path may be empty.
func LoadClient(path string) (Client, error) {
	f := File{Client: DefaultClient(), Relay: DefaultRelay()}
	if err := load(path, &f); err != nil {
		return Client{}, err
	}
	c := f.Client
	setString(&c.APIBaseURL, "CHAT_API_BASE_URL")
	setString(&c.WSHost, "CHAT_WS_HOST")
	setString(&c.MediaBaseURL, "CHAT_MEDIA_BASE_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	if err := errors.Join(
		setBool(&c.Secure, "CHAT_SECURE"),
		setInt(&c.MaxReconnect, "CHAT_MAX_RECONNECT"),
		setDuration(&c.ReconnectStep, "CHAT_RECONNECT_STEP"),
		setDuration(&c.DedupTolerance, "CHAT_DEDUP_TOLERANCE"),
	); err != nil {
		return Client{}, err
	}
	if c.APIBaseURL == "" || c.WSHost == "" {
		return Client{}, errors.New("config: api base url and ws host are required")
	}
	return c, nil
}

// LoadRelay returns relay settings. path may be empty.
func LoadRelay(path string) (Relay, error) {
	f := File{Client: DefaultClient(), Relay: DefaultRelay()}
	if err := load(path, &f); err != nil {
		return Relay{}, err
	}
	r := f.Relay
	setString(&r.Addr, "RELAY_ADDR")
	setString(&r.JWTSecret, "RELAY_JWT_SECRET")
	setString(&r.Users, "RELAY_USERS")
	setString(&r.ValkeyAddr, "RELAY_VALKEY_ADDR")
	setString(&r.PostgresDSN, "RELAY_POSTGRES_DSN")
	setString(&r.UploadDir, "RELAY_UPLOAD_DIR")
	setString(&r.AllowedOrigin, "RELAY_ALLOWED_ORIGIN")
	setString(&r.LogLevel, "LOG_LEVEL")
	if err := errors.Join(
		setSize(&r.MaxUpload, "RELAY_MAX_UPLOAD"),
		setDuration(&r.AccessTTL, "RELAY_ACCESS_TTL"),
	); err != nil {
		return Relay{}, err
	}
	if r.JWTSecret == "" {
		return Relay{}, errors.New("config: RELAY_JWT_SECRET is required")
	}
	return r, nil
}

// ParseUsers parses "name:password,name:password".
func ParseUsers(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, pass, ok := strings.Cut(pair, ":")
		if !ok || name == "" || pass == "" {
			return nil, fmt.Errorf("config: invalid user entry %q", pair)
		}
		out[name] = pass
	}
	return out, nil
}

func load(path string, f *File) error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = Duration(d)
	return nil
}

func setSize(dst *SizeBytes, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := parseSize(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = SizeBytes(n)
	return nil
}

func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func parseSize(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	u, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", v)
	}
	return int64(u), nil
}
