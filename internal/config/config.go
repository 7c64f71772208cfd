package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-tunable default for a streaming
// session: server-side pacing/FEC/chunking, transport listen
// addresses, and the optional metrics/session-log sinks.
//
// Load reads the environment only. Call LoadEnvFile(".env") before
// Load() to use a .env file.
type Config struct {
	// Stream server tunables (spec §4.3). Zero values are left for the
	// streamserver package's own withDefaults to resolve, so Load never
	// has to duplicate those defaults.
	Loop         bool
	Satellite    bool
	ChunkSize    int
	FPS          float64
	FECGroup     int
	SyncInterval time.Duration

	// Stream client tunables (spec §4.4).
	MaxFrameLag time.Duration

	// Transport listen/dial addresses.
	ListenTCP      string // e.g. ":9191"
	ListenUDP      string // e.g. ":9191"
	MulticastGroup string // e.g. "239.0.0.1:9191"
	BroadcastAddr  string // e.g. "255.255.255.255:9191"
	MulticastIface string // network interface name to join on, "" = system default

	// Container source.
	ContainerPath string // path to the .sanchez file to serve

	// Optional sinks.
	MetricsAddr string // promhttp listen address, "" = metrics disabled
	SessionDB   string // sqlite path for sessionlog, "" = session logging disabled

	// Health probe defaults (spec §4.9).
	HealthTimeout time.Duration
}

// Load reads Config from the environment, applying the defaults named
// throughout spec §4.3/§4.4/§4.9.
func Load() *Config {
	c := &Config{
		Loop:           getEnvBool("SANCHEZ_LOOP", false),
		Satellite:      getEnvBool("SANCHEZ_SATELLITE", false),
		ChunkSize:      getEnvInt("SANCHEZ_CHUNK_SIZE", 0),
		FPS:            getEnvFloat("SANCHEZ_FPS", 0),
		FECGroup:       getEnvInt("SANCHEZ_FEC_GROUP", 0),
		SyncInterval:   getEnvDuration("SANCHEZ_SYNC_INTERVAL", 0),
		MaxFrameLag:    getEnvDuration("SANCHEZ_MAX_FRAME_LAG", 0),
		ListenTCP:      getEnv("SANCHEZ_LISTEN_TCP", ":9191"),
		ListenUDP:      getEnv("SANCHEZ_LISTEN_UDP", ":9191"),
		MulticastGroup: getEnv("SANCHEZ_MULTICAST_GROUP", "239.0.0.1:9191"),
		BroadcastAddr:  getEnv("SANCHEZ_BROADCAST_ADDR", "255.255.255.255:9191"),
		MulticastIface: os.Getenv("SANCHEZ_MULTICAST_IFACE"),
		ContainerPath:  getEnv("SANCHEZ_CONTAINER_PATH", "./clip.sanchez"),
		MetricsAddr:    os.Getenv("SANCHEZ_METRICS_ADDR"),
		SessionDB:      os.Getenv("SANCHEZ_SESSION_DB"),
		HealthTimeout:  getEnvDuration("SANCHEZ_HEALTH_TIMEOUT", 3*time.Second),
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 3 * time.Second
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
