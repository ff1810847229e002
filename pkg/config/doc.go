// Package config loads application configuration from environment variables
// and provider definitions from a YAML file.
//
// # Environment Variables
//
// All variables use the SSOCORE_ prefix. The important ones:
//
//	SSOCORE_PORT              HTTP port (default 8080)
//	SSOCORE_HEALTH_PORT       health/metrics port (default 9090)
//	SSOCORE_SIGNING_SECRET    session token signing secret (required, >= 32 bytes)
//	SSOCORE_SESSION_TTL       session token lifetime (default 1h)
//	SSOCORE_STATE_BACKEND     handshake state store: memory or redis
//	SSOCORE_REDIS_URL         Redis address for the redis backend
//	SSOCORE_AUDIT_BACKEND     audit sink: memory, file, or multi
//	SSOCORE_PROVIDERS_FILE    YAML provider definitions
//	SSOCORE_PROVIDERS_WATCH   reload the provider file on change
//	SSOCORE_LOG_LEVEL         debug, info, warn, or error
//	SSOCORE_SWEEP_SCHEDULE    cron spec for the expiry sweep (default @every 1m)
//
// # Provider File
//
//	providers:
//	  - name: corp-azure
//	    protocol: oidc
//	    family: azuread
//	    oidc:
//	      client_id: ...
//	      client_secret: ...
//	      tenant: contoso.onmicrosoft.com
//	      redirect_url: https://sso.example.org/auth/oidc/corp-azure/callback
//
// Entries default to enabled; set "enabled: false" to park one without
// deleting it. A file with any invalid entry is rejected whole.
package config
