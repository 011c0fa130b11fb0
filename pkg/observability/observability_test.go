package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
)

func TestDisabledProviderIsInert(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)

	// All recording paths must be safe no-ops without initialized meters.
	p.RecordRequest(ctx)
	p.RecordError(ctx, errors.New("boom"))
	p.RecordTransition(ctx, contracts.StateTrendDetected, contracts.StateSemanticFilterPending)
	p.RecordEscalation(ctx, contracts.StateApprovalPending, "sla")
	p.RecordPublish(ctx, contracts.PlatformTwitter, true)

	wfCtx, done := p.TrackWorkflow(ctx, "content-1")
	assert.NotNil(t, wfCtx)
	done(errors.New("terminal"))

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())
	require.NoError(t, p.Shutdown(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "chimera-orchestrator", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}
