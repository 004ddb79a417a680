// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "shipwatch")

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", false)
	viper.SetDefault("logging.fileoutput.path", "logs/shipwatch.log")
	viper.SetDefault("logging.fileoutput.level", "info")

	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.slowquerythreshold", 200*time.Millisecond)
	viper.SetDefault("database.sqlite.path", "shipwatch.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")
	viper.SetDefault("database.mysql.database", "shipwatch")

	viper.SetDefault("webserver.listen", ":9967")
	viper.SetDefault("webserver.ratelimit", 1.0)
	viper.SetDefault("webserver.burst", 5)

	viper.SetDefault("acquisition.searchurl", "https://api.daac.asf.alaska.edu/services/search/param")
	viper.SetDefault("acquisition.datadir", "Data")
	viper.SetDefault("acquisition.platform", "Sentinel-1")
	viper.SetDefault("acquisition.processinglevel", "GRD_HD")
	viper.SetDefault("acquisition.maxresults", 100)
	viper.SetDefault("acquisition.timeout", 60*time.Second)

	viper.SetDefault("processing.gptpath", "gpt")
	viper.SetDefault("processing.timeout", time.Duration(0))
	viper.SetDefault("processing.graph.shorelineextension", 20)
	viper.SetDefault("processing.graph.targetwindowsize", 50.0)
	viper.SetDefault("processing.graph.guardwindowsize", 500.0)
	viper.SetDefault("processing.graph.backgroundwindowsize", 800.0)
	viper.SetDefault("processing.graph.pfa", 12.5)
	viper.SetDefault("processing.graph.mintargetsize", 30.0)
	viper.SetDefault("processing.graph.maxtargetsize", 600.0)

	viper.SetDefault("pipeline.maxconcurrent", 2)
	viper.SetDefault("pipeline.defaultwindowdays", 5)

	viper.SetDefault("ports.seedfile", "ports.geojson")
	viper.SetDefault("ports.defaultnumber", 50)

	viper.SetDefault("cache.ttl", 30*time.Second)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "shipwatch/ingestions")
	viper.SetDefault("mqtt.clientid", "shipwatch")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("alerts.enabled", false)
	viper.SetDefault("alerts.urls", []string{})

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.sentry.enabled", false)
	viper.SetDefault("telemetry.sentry.environment", "production")
}
