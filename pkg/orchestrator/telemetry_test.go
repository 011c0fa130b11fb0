package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/JMKlausv/project-chimera-w0/pkg/observability"
)

// A disabled provider still flows through the workflow span, transition
// counting, and publish counting call sites; the run must behave exactly as
// without telemetry.
func TestPipelineRunsWithTelemetryAttached(t *testing.T) {
	obs, err := observability.New(context.Background(), nil)
	require.NoError(t, err)

	f := newFixture(t, passScorer{proceed: true}, Options{
		WalletID:    "agent-1",
		PublishCost: contracts.NewMoney(1_00, "USD"),
	})
	f.orch.WithObservability(obs)

	out := f.run(t)
	assert.Equal(t, contracts.StateDistributionTracking, out.State)
	assert.Equal(t, 1, f.publisher.calls)
}

func TestTelemetryAttachedOnFailurePaths(t *testing.T) {
	obs, err := observability.New(context.Background(), nil)
	require.NoError(t, err)

	f := newFixture(t, passScorer{proceed: true}, Options{})
	f.orch.WithObservability(obs)
	f.publisher.errs = []error{faults.New("PLAT_ACCOUNT_SUSPENDED", "suspended")}

	out := f.run(t)
	assert.Equal(t, contracts.StatePublishFailed, out.State)
	assert.Equal(t, 1, f.sink.Count())
}
