package destination

import (
	"time"

	"postcast/internal/account"
	"postcast/internal/gateway"
	"postcast/internal/transfer"
	"postcast/pkg/logx"
)

// Deps are the shared services handed to every adapter at construction.
type Deps struct {
	Gateway  *gateway.Gateway
	Transfer *transfer.Manager
	Info     account.InfoStore
	Log      logx.Logger
}

// WithDefaults fills missing services with process-local defaults.
func (d Deps) WithDefaults() Deps {
	if d.Gateway == nil {
		d.Gateway = gateway.New(gateway.Config{})
	}
	if d.Transfer == nil {
		d.Transfer = transfer.New(transfer.DefaultConfig())
	}
	if d.Info == nil {
		d.Info = account.NewMemoryInfoStore()
	}
	return d
}

// Session returns the gateway lane of one account on one destination.
func (d Deps) Session(destinationID, accountID string, minInterval time.Duration) *gateway.Session {
	return d.Gateway.Session(destinationID+":"+accountID, minInterval)
}
