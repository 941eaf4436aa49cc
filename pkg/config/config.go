package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlatformConfig 直播平台配置
type PlatformConfig struct {
	Name               string `json:"name" yaml:"name"`
	RTMPTemplate       string `json:"rtmpTemplate" yaml:"rtmpTemplate"`
	AccountCreationURL string `json:"accountCreationUrl" yaml:"accountCreationUrl"`
}

// EncoderOptions 编码器（ffmpeg）参数模板
// 每个字段是一段参数模板，按空格切分后拼接成完整命令行
type EncoderOptions struct {
	VideoInput   string `json:"videoInput" yaml:"videoInput"`
	AudioInput   string `json:"audioInput" yaml:"audioInput"`
	VideoCodec   string `json:"videoCodec" yaml:"videoCodec"`
	AudioCodec   string `json:"audioCodec" yaml:"audioCodec"`
	OutputFormat string `json:"outputFormat" yaml:"outputFormat"`
}

// Config 机群配置
type Config struct {
	DatabasePath   string           `json:"DATABASE_PATH" yaml:"database_path"`
	DatabaseEngine string           `json:"DATABASE_ENGINE" yaml:"database_engine"` // sqlite | zombiezen
	BackgroundPath string           `json:"STATIC_BACKGROUND_PATH" yaml:"static_background_path"`
	LogLevel       string           `json:"LOG_LEVEL" yaml:"log_level"`
	LogFile        string           `json:"LOG_FILE" yaml:"log_file"`
	Platforms      []PlatformConfig `json:"PLATFORMS" yaml:"platforms"`
	Encoder        EncoderOptions   `json:"FFMPEG_OPTIONS" yaml:"ffmpeg_options"`
	EncoderPath    string           `json:"FFMPEG_PATH" yaml:"ffmpeg_path"`
	InteractionDelayMS int          `json:"INTERACTION_DELAY_MS" yaml:"interaction_delay_ms"`
	SecretStorePath    string       `json:"SECRET_STORE_PATH" yaml:"secret_store_path"`
	ControlPlaneAddr   string       `json:"CONTROL_PLANE_ADDR" yaml:"control_plane_addr"`
	ChromePath         string       `json:"CHROME_PATH" yaml:"chrome_path"`
	CaptchaBaseURL     string       `json:"CAPTCHA_BASE_URL" yaml:"captcha_base_url"`
}

// Default 返回默认配置（与首个发布版本的出厂配置一致）
func Default(dataDir string) *Config {
	return &Config{
		DatabasePath:   filepath.Join(dataDir, "bots.sqlite"),
		DatabaseEngine: "sqlite",
		BackgroundPath: filepath.Join(dataDir, "static_background.png"),
		LogLevel:       "info",
		LogFile:        filepath.Join(dataDir, "logs", "fleet.log"),
		Platforms: []PlatformConfig{
			{
				Name:               "tiktok",
				RTMPTemplate:       "rtmp://live.tiktok.com/live/",
				AccountCreationURL: "https://www.tiktok.com/signup",
			},
			{
				Name:               "youtube",
				RTMPTemplate:       "rtmp://a.rtmp.youtube.com/live2/",
				AccountCreationURL: "https://accounts.google.com/signup/v2/webcreateaccount",
			},
			{
				Name:               "xcom",
				RTMPTemplate:       "rtmp://live.x.com/live/",
				AccountCreationURL: "https://x.com/i/flow/signup",
			},
		},
		Encoder: EncoderOptions{
			VideoInput:   "-re -loop 1 -i",
			AudioInput:   "-f s16le -ar 44100 -ac 2 -i pipe:0",
			VideoCodec:   "-c:v libx264 -preset veryfast -tune stillimage -b:v 500k",
			AudioCodec:   "-c:a aac -b:a 128k -ar 44100",
			OutputFormat: "-pix_fmt yuv420p -f flv",
		},
		EncoderPath:        "ffmpeg",
		InteractionDelayMS: 3000,
		SecretStorePath:    filepath.Join(dataDir, "secrets"),
		ControlPlaneAddr:   "127.0.0.1:8787",
		CaptchaBaseURL:     "http://2captcha.com",
	}
}

// Load 加载配置文件；文件不存在时写出默认配置并返回（首次运行不是错误）
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("配置文件路径为空")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
		// 首次运行：生成默认配置并落盘
		cfg := Default(filepath.Dir(path))
		if werr := writeDefault(path, cfg); werr != nil {
			// 写失败不阻塞启动，仅使用内存中的默认值
			return cfg, nil
		}
		return cfg, nil
	}

	cfg := &Config{}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败 %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置失败 %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s（支持 .yaml, .yml, .json）", ext)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return cfg, nil
}

func writeDefault(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// applyDefaults 补齐缺失字段（旧配置文件兼容）
func (c *Config) applyDefaults(dataDir string) {
	def := Default(dataDir)
	if strings.TrimSpace(c.DatabasePath) == "" {
		c.DatabasePath = def.DatabasePath
	}
	if strings.TrimSpace(c.DatabaseEngine) == "" {
		c.DatabaseEngine = def.DatabaseEngine
	}
	if strings.TrimSpace(c.BackgroundPath) == "" {
		c.BackgroundPath = def.BackgroundPath
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = def.LogLevel
	}
	if len(c.Platforms) == 0 {
		c.Platforms = def.Platforms
	}
	if strings.TrimSpace(c.Encoder.AudioInput) == "" {
		c.Encoder = def.Encoder
	}
	if strings.TrimSpace(c.EncoderPath) == "" {
		c.EncoderPath = def.EncoderPath
	}
	if c.InteractionDelayMS <= 0 {
		c.InteractionDelayMS = def.InteractionDelayMS
	}
	if strings.TrimSpace(c.SecretStorePath) == "" {
		c.SecretStorePath = def.SecretStorePath
	}
	if strings.TrimSpace(c.CaptchaBaseURL) == "" {
		c.CaptchaBaseURL = def.CaptchaBaseURL
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database_path 不能为空")
	}
	switch c.DatabaseEngine {
	case "sqlite", "zombiezen":
	default:
		return fmt.Errorf("database_engine 必须是 sqlite 或 zombiezen，实际为 %q", c.DatabaseEngine)
	}
	if len(c.Platforms) == 0 {
		return fmt.Errorf("platforms 不能为空")
	}
	for i, p := range c.Platforms {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("platforms[%d].name 不能为空", i)
		}
		if strings.TrimSpace(p.RTMPTemplate) == "" {
			return fmt.Errorf("platforms[%d].rtmpTemplate 不能为空", i)
		}
	}
	if c.InteractionDelayMS <= 0 {
		return fmt.Errorf("interaction_delay_ms 必须大于 0")
	}
	return nil
}
