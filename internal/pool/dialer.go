package pool

import (
	"context"

	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/nntp"
)

// NewNNTPDialer builds a Dialer that opens fresh authenticated NNTP
// connections against provider using nntp.Dial.
func NewNNTPDialer(provider domain.Provider) Dialer {
	cfg := nntp.Config{
		Host:        provider.Host,
		Port:        provider.Port,
		TLS:         provider.TLS,
		InsecureTLS: provider.InsecureTLS,
		Username:    provider.Username,
		Password:    provider.Password,
	}
	return dialerFunc(func(ctx context.Context) (*nntp.Client, error) {
		return nntp.Dial(ctx, cfg)
	})
}
