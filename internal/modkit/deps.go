// Package modkit provides module wiring and core deps
package modkit

import (
	"sluice/internal/platform/config"
	"sluice/internal/platform/logger"
	"sluice/internal/platform/store"
)

// Deps holds core dependencies passed to modules
// this is wiring only and does not introduce new abstractions
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	WH  store.Warehouse
}

// ZeroOK returns true when deps are safe to use with zero values in tests
// consumers should still nil check the optional warehouse seam
func (d Deps) ZeroOK() bool { return true }
