// Package config defines configuration for the lazywall binary.
//
// Configuration can be provided via:
//   - YAML configuration file
//   - Environment variables (LAZYWALL_ prefix), applied on top of the file
//
// # Example
//
//	page_size: 30
//	max_retries: 3
//	page_max_retries: 3
//	base_delay: 1s
//	max_delay: 8s
//	root_margin: 200
//	threshold: 0.1
//	viewport_height: 800
//	columns: 3
//	row_height: 300
//	source:
//	  kind: http
//	  url: https://images.example.com
//	redis:
//	  addr: localhost:6379
//	listen: :8080
//	log:
//	  level: info
package config
