package config

// DbSettings holds configuration for the entity store backend.
type DbSettings struct {
	Type string `mapstructure:"type" validate:"required,oneof=postgres mongo spanner"`
	// DSN is used by the postgres backend.
	DSN string `mapstructure:"dsn"`
	// URI is used by the mongo and spanner backends.
	URI string `mapstructure:"uri"`
	// DBName and Collection are only used by the mongo backend.
	DBName     string `mapstructure:"db_name"`
	Collection string `mapstructure:"collection"`
}
