package config

func ResetDefault() {
	defaultConfig.Store(nil)
}

var EnvKey = envKey
