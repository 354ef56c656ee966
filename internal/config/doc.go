// Package config provides configuration loading for prefsync.
//
// Configuration is read from prefsync.json or prefsync.yaml, then
// overridden by PREFSYNC_* environment variables, then validated.
//
// # Configuration File Structure
//
//	backend: sqlite          # memory | file | sqlite | s3
//	file:
//	  dir: .prefsync
//	sqlite:
//	  path: prefsync.db
//	  pollInterval: 250ms
//	  retention: 1h
//	s3:
//	  bucket: my-bucket
//	  prefix: prefs/
//	  region: us-east-1
//	relay:
//	  url: ws://localhost:7070/ws
//	  listen: ":7070"
//	metrics:
//	  enabled: true
//	log:
//	  level: info
//	  format: json
//
// Every field has an environment override named after its path, e.g.
// PREFSYNC_BACKEND, PREFSYNC_SQLITE_POLL_INTERVAL, PREFSYNC_RELAY_URL.
//
// # Usage
//
//	cfg, err := config.Resolve("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Backend:", cfg.Backend)
package config
