package agent

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/vm"
)

// autoPoll keeps a usage poller running for every running domain. Polling
// the agent started itself is stopped again once the domain is no longer
// running. Polling started or stopped over the API is left alone until
// the domain stops.
func (a *Agent) autoPoll(ctx context.Context) {
	changes, stop := a.store.Changes()
	defer stop()

	started := make(map[v1alpha1.Key]bool)
	for {
		a.syncPolling(ctx, started)
		select {
		case <-ctx.Done():
			return
		case <-changes:
		}
	}
}

func (a *Agent) syncPolling(ctx context.Context, started map[v1alpha1.Key]bool) {
	logger := zerolog.Ctx(ctx)
	seen := make(map[v1alpha1.Key]bool)

	for _, scope := range a.scopes {
		for _, d := range a.store.Domains(scope) {
			key := d.Key()
			seen[key] = true
			running := vm.IsRunning(d.State)

			switch {
			case running && !d.UsagePolling && !started[key]:
				if a.poller.Start(ctx, key) {
					started[key] = true
					logger.Debug().Str("scope", string(scope)).Str("domain", d.Name).Msg("auto usage polling started")
				}
			case !running && started[key]:
				a.poller.Stop(key)
				delete(started, key)
			}
		}
	}

	for key := range started {
		if !seen[key] {
			delete(started, key)
		}
	}
}
