// Package config loads lmbridge's YAML configuration.
//
// Settings come from three layers, later ones winning: built-in defaults,
// the YAML file (LMBRIDGE_CONFIG or configs/config.yaml) and LMBRIDGE_*
// environment variables. Keep the cloud password, the MQTT and InfluxDB
// credentials and the credential passphrase in the environment and the
// file at mode 0600.
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    return err
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.Serial, d.Name)
//	}
//
// configs/config.example.yaml documents every key.
package config
