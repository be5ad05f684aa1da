// Package config loads the access control core configuration from YAML
// and ACCESS_* environment variables.
//
// The MQTT broker host has no default; a config without one fails
// validation. Broker credentials and the InfluxDB token are best supplied
// through ACCESS_MQTT_PASSWORD and ACCESS_INFLUXDB_TOKEN, and a config file
// holding them should be mode 0600.
package config
