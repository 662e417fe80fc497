package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
)

type StorageConfig struct {
	Driver        string `json:"driver" env:"CRUDZOCIAL_STORAGE_DRIVER"`
	Path          string `json:"path" env:"CRUDZOCIAL_STORAGE_PATH"`
	RedisAddr     string `json:"redis_addr" env:"CRUDZOCIAL_REDIS_ADDR"`
	RedisPassword string `json:"redis_password" env:"CRUDZOCIAL_REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" env:"CRUDZOCIAL_REDIS_DB"`
	RedisPrefix   string `json:"redis_prefix" env:"CRUDZOCIAL_REDIS_PREFIX"`
	// EncryptionKey seals every stored value with AES-GCM when set.
	EncryptionKey string `json:"encryption_key" env:"CRUDZOCIAL_STORAGE_ENCRYPTION_KEY"`
}

type PasswordConfig struct {
	Time      uint32 `json:"time" env:"CRUDZOCIAL_PASSWORD_TIME"`
	MemoryKiB uint32 `json:"memory_kib" env:"CRUDZOCIAL_PASSWORD_MEMORY_KIB"`
	Threads   uint8  `json:"threads" env:"CRUDZOCIAL_PASSWORD_THREADS"`
}

type Config struct {
	AppName        string         `json:"app_name" env:"CRUDZOCIAL_APP_NAME"`
	ListenIP       string         `json:"listen_ip" env:"CRUDZOCIAL_LISTEN_IP"`
	ListenPort     int            `json:"listen_port" env:"CRUDZOCIAL_LISTEN_PORT"`
	SessionKey     string         `json:"session_key" env:"CRUDZOCIAL_SESSION_KEY"`
	SecureCookies  bool           `json:"secure_cookies" env:"CRUDZOCIAL_SECURE_COOKIES"`
	RequireCaptcha bool           `json:"require_captcha" env:"CRUDZOCIAL_REQUIRE_CAPTCHA"`
	MaxUploadBytes int64          `json:"max_upload_bytes" env:"CRUDZOCIAL_MAX_UPLOAD_BYTES"`
	MaxImagePixels int64          `json:"max_image_pixels" env:"CRUDZOCIAL_MAX_IMAGE_PIXELS"`
	AllowedOrigins []string       `json:"allowed_origins" env:"CRUDZOCIAL_ALLOWED_ORIGINS" envSeparator:","`
	LogLevel       string         `json:"log_level" env:"CRUDZOCIAL_LOG_LEVEL"`
	LogFormat      string         `json:"log_format" env:"CRUDZOCIAL_LOG_FORMAT"`
	Storage        StorageConfig  `json:"storage"`
	Password       PasswordConfig `json:"password"`
}

var AppConfig Config

// Defaults returns the configuration used for any key the file and the
// environment leave unset.
func Defaults() Config {
	return Config{
		AppName:        "Crudzocial",
		ListenIP:       "127.0.0.1",
		ListenPort:     8080,
		RequireCaptcha: true,
		MaxUploadBytes: 10 << 20,
		MaxImagePixels: 25_000_000,
		LogLevel:       "info",
		LogFormat:      "text",
		Storage: StorageConfig{
			Driver:      "sqlite",
			Path:        "./crudzocial.db",
			RedisPrefix: "crudzocial:",
		},
		Password: PasswordConfig{
			Time:      1,
			MemoryKiB: 64 * 1024,
			Threads:   4,
		},
	}
}

// LoadConfig layers the JSON file at path, when path is not empty, and then
// the environment over Defaults and stores the result in AppConfig.
func LoadConfig(path string) error {
	cfg := Defaults()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return err
		}
	}

	// Environment variables win over the file.
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	// If no key is provided or it's the placeholder, generate a secure random one
	if cfg.SessionKey == "" || cfg.SessionKey == "CHANGE_ME_IN_PRODUCTION" {
		slog.Warn("no session key configured, generating a random key; flash messages and CSRF tokens are invalidated on restart")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return err
		}
		cfg.SessionKey = hex.EncodeToString(randomKey)
	}

	AppConfig = cfg
	return nil
}
