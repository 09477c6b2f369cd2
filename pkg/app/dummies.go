package app

import "github.com/wez/gimli/pkg/config"

// newTestConfig builds an AppConfig the way the tests need it.
func newTestConfig() (*config.AppConfig, error) {
	return config.NewAppConfig("glider", "test", "", "", "test", false)
}
