package config

import (
	"time"

	"github.com/spf13/viper"
)

func Load() error {
	// Dashboard server
	viper.SetDefault("DASHBOARD_ADDR", ":3000")
	viper.SetDefault("WS_ADDR", ":3001")

	// Charging backend
	viper.SetDefault("API_BASE_URL", "http://localhost:8081/api")

	// Event sources
	viper.SetDefault("MQTT_BROKER", "tcp://localhost:1883")
	viper.SetDefault("MQTT_TOPIC", "ev/events")
	viper.SetDefault("USE_MQTT_EVENTS", "false")
	viper.SetDefault("USE_SIMULATOR", "true")

	// Session tuning
	viper.SetDefault("REFRESH_INTERVAL", "5s")
	viper.SetDefault("METER_INTERVAL", "5s")
	viper.SetDefault("UNIT_PRICE", 0.35)

	// Local stand-in backend
	viper.SetDefault("SIM_ADDR", ":8081")

	viper.AutomaticEnv()
	return nil
}

func DashboardAddr() string  { return viper.GetString("DASHBOARD_ADDR") }
func WebSocketAddr() string  { return viper.GetString("WS_ADDR") }
func APIBaseURL() string     { return viper.GetString("API_BASE_URL") }
func MQTTBroker() string     { return viper.GetString("MQTT_BROKER") }
func MQTTTopic() string      { return viper.GetString("MQTT_TOPIC") }
func UseMQTTEvents() bool    { return viper.GetBool("USE_MQTT_EVENTS") }
func UseSimulator() bool     { return viper.GetBool("USE_SIMULATOR") }
func UnitPrice() float64     { return viper.GetFloat64("UNIT_PRICE") }
func SimBackendAddr() string { return viper.GetString("SIM_ADDR") }

func RefreshInterval() time.Duration {
	d := viper.GetDuration("REFRESH_INTERVAL")
	if d <= 0 {
		d = 5 * time.Second
	}
	return d
}

func MeterInterval() time.Duration {
	d := viper.GetDuration("METER_INTERVAL")
	if d <= 0 {
		d = 5 * time.Second
	}
	return d
}
