package config

// ConfigBackend is where `folio config set` persists values: UserDefaults on
// macOS, a JSON file under XDG_CONFIG_HOME elsewhere. Booleans are stored as
// strings. Delete of an unknown key is not an error.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
