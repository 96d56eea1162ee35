// Package config handles configuration loading for warden-gateway.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by file extension) with
// environment variable expansion, struct-tag validation and defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. --config flag
//  2. Path from WARDEN_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/warden/gateway.yaml
//  4. ~/.config/warden/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  ldap:
//	    bind_credentials: "${LDAP_PASSWORD}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax, plus "d" for days:
//
//	backend:
//	  start_delay: "1s"
//	  kill_grace: "10ms"
//	auth:
//	  dummy:
//	    access_token_age: "15m"
//	    refresh_token_age: "7d"
//
// # Identity Providers
//
// At least one of auth.dummy, auth.ldap, auth.google or auth.external must be
// present. Password logins use auth.ldap when configured, otherwise
// auth.dummy. auth.google and auth.external only verify tokens issued
// elsewhere.
//
// # Backend Processes
//
//	backend:
//	  ports: {min: 3003, max: 3500}
//	  process_command: /usr/bin/carta_backend
//	  sudo_command: sudo
//	  kill_command: /usr/local/bin/warden-kill-script
//	  root_folder_template: /home/{username}
//	  base_folder_template: /home/{username}
//	  log_file_template: /var/log/warden/{username}_{datetime}_{pid}.log
//
// {username} is substituted in the folder and log templates, {pid} and
// {datetime} only in the log template.
package config
