package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	ServerPort int `mapstructure:"server_port" validate:"gt=0,lt=65536"`

	StoreBackend  string `mapstructure:"store_backend" validate:"oneof=memory redis"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=StoreBackend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`

	UploadDir string `mapstructure:"upload_dir" validate:"required"`
	OutputDir string `mapstructure:"output_dir" validate:"required"`
	// TempDir holds transient video watermark rasters. Empty means OutputDir.
	TempDir  string `mapstructure:"temp_dir"`
	FontPath string `mapstructure:"font_path"`

	WatermarkText     string  `mapstructure:"watermark_text"`
	LetterSpacing     float64 `mapstructure:"letter_spacing" validate:"gte=-1,lte=1"`
	Opacity           int     `mapstructure:"opacity" validate:"gte=0,lte=255"`
	TargetWidthRatio  float64 `mapstructure:"target_width_ratio" validate:"gt=0,lte=1"`
	ReferenceFontSize int     `mapstructure:"reference_font_size" validate:"gt=0"`
	FallbackSizeRatio float64 `mapstructure:"fallback_size_ratio" validate:"gt=0,lte=1"`

	Retention         time.Duration `mapstructure:"retention" validate:"gt=0"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs" validate:"gte=0"`
	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes" validate:"gte=0"`

	FFmpegPath         string        `mapstructure:"ffmpeg_path" validate:"required"`
	FFprobePath        string        `mapstructure:"ffprobe_path" validate:"required"`
	EncodeTimeout      time.Duration `mapstructure:"encode_timeout" validate:"gte=0"`
	DefaultVideoWidth  int           `mapstructure:"default_video_width" validate:"gt=0"`
	DefaultVideoHeight int           `mapstructure:"default_video_height" validate:"gt=0"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`
}

var defaults = map[string]any{
	"server_port":          8080,
	"store_backend":        "memory",
	"redis_addr":           "localhost:6379",
	"redis_password":       "",
	"redis_db":             0,
	"upload_dir":           "./uploads",
	"output_dir":           "./output",
	"temp_dir":             "",
	"font_path":            "./assets/fonts/Geist-SemiBold.ttf",
	"watermark_text":       "OTSU",
	"letter_spacing":       -0.04,
	"opacity":              25,
	"target_width_ratio":   0.65,
	"reference_font_size":  100,
	"fallback_size_ratio":  0.1,
	"retention":            time.Hour,
	"sweep_interval":       time.Duration(0),
	"max_concurrent_jobs":  0,
	"max_upload_bytes":     int64(500 << 20),
	"ffmpeg_path":          "ffmpeg",
	"ffprobe_path":         "ffprobe",
	"encode_timeout":       time.Duration(0),
	"default_video_width":  1920,
	"default_video_height": 1080,
	"log_level":            "info",
	"log_format":           "json",
}

// Load reads defaults, then the optional config file at path, then
// environment variables (SERVER_PORT, REDIS_ADDR, ...), and validates the
// result.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: failed %q (value %v)", fe.Field(), fe.ActualTag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %w", errors.Join(msgs...))
}

// VideoTempDir is where transient watermark rasters are written.
func (c *Config) VideoTempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return c.OutputDir
}
