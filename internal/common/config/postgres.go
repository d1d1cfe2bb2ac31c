package config

type PostgresConfig struct {
	// libpq style key/value pairs, e.g. host, port, user, password, dbname, sslmode
	Connection map[string]string `validate:"required"`
}
