// Package db selects the concrete store driver from the runtime profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/modelpilot/internal/profile"
	"github.com/hrygo/modelpilot/store"
	"github.com/hrygo/modelpilot/store/db/postgres"
	"github.com/hrygo/modelpilot/store/db/sqlite"
	"github.com/hrygo/modelpilot/store/memory"
)

// NewDBDriver creates a store driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	case "memory":
		return memory.NewDB(), nil
	default:
		return nil, errors.Errorf("unsupported driver: %s", profile.Driver)
	}
}
