// Package config loads the railpos YAML configuration.
//
// Defaults are applied before decoding, so a file only needs the keys it
// changes. The decoded configuration is validated with struct tags.
//
// Example:
//
//	rail:
//	  path: lines/paris-lyon.yaml
//	projection:
//	  cache_size: 4096
//	on_track_threshold_m: 150
//	locator:
//	  max_candidate_m: 100
//	  switch_confirm_fixes: 5
//	jump_guard:
//	  max_speed_kmh: 320
//	quality:
//	  fresh_sec: 6
//	direction:
//	  odd_is_up: false
//	replay:
//	  speed: 10
//	log:
//	  level: debug
//	  events:
//	    path: /var/log/railpos/events.ndjson
//	    max_size_mb: 50
//	store:
//	  path: railpos.db
package config
