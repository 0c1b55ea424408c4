package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile       = "config.env"
	DefaultDownloadPath     = "/media/medialibrary/downloaded"
	DefaultStatsFile        = "download_stats.json"
	DefaultHistoryDB        = "download_history.sqlite"
	DefaultLogDir           = "logs"
	DefaultAPIURL           = "https://api.telegram.org"
	DefaultDiskWarnPercent  = 90
	DefaultLogLevel         = "info"
	maskedSecretPlaceholder = "********"
)

type Config struct {
	LogLevel          string
	LogDir            string
	DownloadPath      string
	StatsFile         string
	HistoryDB         string
	DiskWarnPercent   int
	Telegram          TelegramConfig
	ObservabilityHTTP ObservabilityHTTPConfig
}

type TelegramConfig struct {
	APIID        int64
	APIHash      string
	APIURL       string
	Proxy        string // socks5://[user:pass@]host:port
	TargetChatID int64
	AllowedUser  string // username or numeric user id
}

type ObservabilityHTTPConfig struct {
	Addr    string
	Metrics bool
	Pprof   bool
}

// fileSettings is the flat key layout Load reads, so a dumped config can be
// passed back with --config.
type fileSettings struct {
	APIID                int64  `yaml:"api_id"`
	APIHash              string `yaml:"api_hash"`
	TargetChatID         int64  `yaml:"target_chat_id"`
	AllowedUser          string `yaml:"allowed_user"`
	DownloadPath         string `yaml:"download_path"`
	StatsFile            string `yaml:"stats_file"`
	HistoryDB            string `yaml:"history_db"`
	DiskWarningThreshold int    `yaml:"disk_warning_threshold"`
	LogDir               string `yaml:"log_dir"`
	LogLevel             string `yaml:"log_level"`
	TelegramAPIURL       string `yaml:"telegram_api_url"`
	TelegramProxy        string `yaml:"telegram_proxy,omitempty"`
	MetricsAddr          string `yaml:"metrics_addr,omitempty"`
	Pprof                bool   `yaml:"pprof,omitempty"`
}

// Token is the Bot API token assembled from the two credentials.
func (t TelegramConfig) Token() string {
	return strconv.FormatInt(t.APIID, 10) + ":" + t.APIHash
}

// Error is a missing or invalid setting. It is always fatal at startup.
type Error struct {
	Key string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Msg)
}

// Load reads settings from the environment and, when present, from the
// file at path. The file may be a dotenv file (".env") or YAML; environment
// variables override it. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("download_path", DefaultDownloadPath)
	v.SetDefault("stats_file", DefaultStatsFile)
	v.SetDefault("history_db", DefaultHistoryDB)
	v.SetDefault("log_dir", DefaultLogDir)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("telegram_api_url", DefaultAPIURL)
	v.SetDefault("disk_warning_threshold", strconv.Itoa(DefaultDiskWarnPercent))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if strings.HasSuffix(path, ".env") {
				v.SetConfigType("env")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		LogLevel:     strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
		LogDir:       strings.TrimSpace(v.GetString("log_dir")),
		DownloadPath: strings.TrimSpace(v.GetString("download_path")),
		StatsFile:    strings.TrimSpace(v.GetString("stats_file")),
		HistoryDB:    strings.TrimSpace(v.GetString("history_db")),
		Telegram: TelegramConfig{
			APIHash:     strings.TrimSpace(v.GetString("api_hash")),
			APIURL:      strings.TrimRight(strings.TrimSpace(v.GetString("telegram_api_url")), "/"),
			Proxy:       strings.TrimSpace(v.GetString("telegram_proxy")),
			AllowedUser: strings.TrimPrefix(strings.TrimSpace(v.GetString("allowed_user")), "@"),
		},
		ObservabilityHTTP: ObservabilityHTTPConfig{
			Addr: strings.TrimSpace(v.GetString("metrics_addr")),
		},
	}
	cfg.ObservabilityHTTP.Metrics = cfg.ObservabilityHTTP.Addr != ""
	cfg.ObservabilityHTTP.Pprof = v.GetBool("pprof")

	apiID := strings.TrimSpace(v.GetString("api_id"))
	if apiID == "" {
		return nil, &Error{Key: "API_ID", Msg: "not set"}
	}
	id, err := strconv.ParseInt(apiID, 10, 64)
	if err != nil {
		return nil, &Error{Key: "API_ID", Msg: fmt.Sprintf("invalid value %q: must be an integer", apiID)}
	}
	cfg.Telegram.APIID = id
	if cfg.Telegram.APIHash == "" {
		return nil, &Error{Key: "API_HASH", Msg: "not set"}
	}

	rawChat := v.GetString("target_chat_id")
	if strings.TrimSpace(rawChat) == "" {
		return nil, &Error{Key: "TARGET_CHAT_ID", Msg: "not set"}
	}
	chatID, err := ParseChatID(rawChat)
	if err != nil {
		return nil, &Error{Key: "TARGET_CHAT_ID", Msg: err.Error()}
	}
	cfg.Telegram.TargetChatID = chatID

	if cfg.Telegram.AllowedUser == "" {
		return nil, &Error{Key: "ALLOWED_USER", Msg: "not set"}
	}

	threshold := strings.TrimSpace(v.GetString("disk_warning_threshold"))
	pct, err := strconv.Atoi(stripComment(threshold))
	if err != nil || pct < 1 || pct > 100 {
		return nil, &Error{Key: "DISK_WARNING_THRESHOLD", Msg: fmt.Sprintf("invalid value %q: must be an integer between 1 and 100", threshold)}
	}
	cfg.DiskWarnPercent = pct

	if cfg.StatsFile == "" {
		cfg.StatsFile = DefaultStatsFile
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = DefaultHistoryDB
	}
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir
	}
	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = DefaultAPIURL
	}
	if p := cfg.Telegram.Proxy; p != "" && !strings.HasPrefix(p, "socks5://") && !strings.HasPrefix(p, "socks5h://") {
		return nil, &Error{Key: "TELEGRAM_PROXY", Msg: "only socks5:// proxies are supported"}
	}

	if err := checkDownloadPath(cfg.DownloadPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseChatID parses a chat id, ignoring anything after a '#'.
func ParseChatID(raw string) (int64, error) {
	s := stripComment(raw)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid format %q: must be an integer", raw)
	}
	return id, nil
}

func stripComment(s string) string {
	s, _, _ = strings.Cut(s, "#")
	return strings.TrimSpace(s)
}

func checkDownloadPath(path string) error {
	if path == "" {
		return &Error{Key: "DOWNLOAD_PATH", Msg: "not set"}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return &Error{Key: "DOWNLOAD_PATH", Msg: fmt.Sprintf("folder %q does not exist", path)}
	}
	if !fi.IsDir() {
		return &Error{Key: "DOWNLOAD_PATH", Msg: fmt.Sprintf("%q is not a directory", path)}
	}
	return nil
}

// Dump renders cfg as YAML with secrets masked, using the same keys Load
// reads.
func Dump(cfg *Config) ([]byte, error) {
	settings := fileSettings{
		APIID:                cfg.Telegram.APIID,
		APIHash:              cfg.Telegram.APIHash,
		TargetChatID:         cfg.Telegram.TargetChatID,
		AllowedUser:          cfg.Telegram.AllowedUser,
		DownloadPath:         cfg.DownloadPath,
		StatsFile:            cfg.StatsFile,
		HistoryDB:            cfg.HistoryDB,
		DiskWarningThreshold: cfg.DiskWarnPercent,
		LogDir:               cfg.LogDir,
		LogLevel:             cfg.LogLevel,
		TelegramAPIURL:       cfg.Telegram.APIURL,
		TelegramProxy:        cfg.Telegram.Proxy,
		MetricsAddr:          cfg.ObservabilityHTTP.Addr,
		Pprof:                cfg.ObservabilityHTTP.Pprof,
	}
	if settings.APIHash != "" {
		settings.APIHash = maskedSecretPlaceholder
	}
	out, err := yaml.Marshal(&settings)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return out, nil
}
