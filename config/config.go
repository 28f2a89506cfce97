package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server modes.
const (
	ServerWebsocket = "websocket" // browser UI only, voice started on demand
	ServerVoice     = "voice"     // voice session only, no UI server
	ServerBoth      = "both"      // UI server with the voice session started at boot
)

// Location is a fixed "lat,lng" fallback for the get_location tool.
type Location struct {
	Lat float64
	Lng float64
}

// Config holds all application configuration
type Config struct {
	Port           int
	ServerType     string
	AllowedOrigins []string
	RedisURL       string
	RedisPassword  string
	SessionTimeout time.Duration // TTL of the presence record
	GeminiAPIKey   string

	LiveModel    string
	PlannerModel string
	ImageModel   string
	VideoModel   string
	VoiceName    string

	CaptureChunkSize  int
	VideoPollInterval time.Duration
	DefaultLocation   *Location
	MaxParallelMedia  int
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:              8080,
		ServerType:        ServerWebsocket,
		AllowedOrigins:    []string{"*"},
		RedisURL:          "",
		SessionTimeout:    30 * time.Minute,
		LiveModel:         "models/gemini-2.5-flash-native-audio-preview-12-2025",
		PlannerModel:      "gemini-2.5-flash",
		ImageModel:        "imagen-4.0-generate-001",
		VideoModel:        "veo-3.0-fast-generate-001",
		VoiceName:         "Zephyr",
		CaptureChunkSize:  4096,
		VideoPollInterval: 10 * time.Second,
		MaxParallelMedia:  3,
	}

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	var err error
	if config.Port, err = intEnv("PORT", config.Port); err != nil {
		return nil, err
	}

	// Optional: SERVER_TYPE ("websocket", "voice", or "both")
	if serverType := os.Getenv("SERVER_TYPE"); serverType != "" {
		switch serverType {
		case ServerWebsocket, ServerVoice, ServerBoth:
			config.ServerType = serverType
		default:
			return nil, fmt.Errorf("invalid SERVER_TYPE: must be 'websocket', 'voice', or 'both'")
		}
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	config.RedisURL = stringEnv("REDIS_URL", config.RedisURL)
	config.RedisPassword = stringEnv("REDIS_PASSWORD", config.RedisPassword)

	// Optional: SESSION_TIMEOUT (in minutes)
	timeout, err := intEnv("SESSION_TIMEOUT", 30)
	if err != nil {
		return nil, err
	}
	config.SessionTimeout = time.Duration(timeout) * time.Minute

	config.LiveModel = stringEnv("LIVE_MODEL", config.LiveModel)
	config.PlannerModel = stringEnv("PLANNER_MODEL", config.PlannerModel)
	config.ImageModel = stringEnv("IMAGE_MODEL", config.ImageModel)
	config.VideoModel = stringEnv("VIDEO_MODEL", config.VideoModel)
	config.VoiceName = stringEnv("VOICE_NAME", config.VoiceName)

	if config.CaptureChunkSize, err = intEnv("CAPTURE_CHUNK_SIZE", config.CaptureChunkSize); err != nil {
		return nil, err
	}
	if config.CaptureChunkSize <= 0 {
		return nil, fmt.Errorf("invalid CAPTURE_CHUNK_SIZE: must be positive")
	}

	// Optional: VIDEO_POLL_INTERVAL (in seconds)
	poll, err := intEnv("VIDEO_POLL_INTERVAL", 10)
	if err != nil {
		return nil, err
	}
	config.VideoPollInterval = time.Duration(poll) * time.Second

	if config.MaxParallelMedia, err = intEnv("MAX_PARALLEL_MEDIA", config.MaxParallelMedia); err != nil {
		return nil, err
	}
	if config.MaxParallelMedia < 1 {
		config.MaxParallelMedia = 1
	}

	// Optional: DEFAULT_LOCATION ("lat,lng")
	if loc := os.Getenv("DEFAULT_LOCATION"); loc != "" {
		l, err := ParseLocation(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_LOCATION: %w", err)
		}
		config.DefaultLocation = l
	}

	return config, nil
}

// ParseLocation parses "lat,lng".
func ParseLocation(s string) (*Location, error) {
	lat, lng, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("expected \"lat,lng\", got %q", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	if la < -90 || la > 90 || lo < -180 || lo > 180 {
		return nil, fmt.Errorf("coordinates out of range: %v,%v", la, lo)
	}
	return &Location{Lat: la, Lng: lo}, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
