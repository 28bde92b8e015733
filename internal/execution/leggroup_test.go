package execution

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/stretchr/testify/assert"
)

func statusMap(m map[string]domain.OrderStatus) func(string) domain.OrderStatus {
	return func(id string) domain.OrderStatus { return m[id] }
}

func TestAwaitBalance_BalancedGroupReturnsNoUnwind(t *testing.T) {
	ids := []string{"yes", "no"}
	statusOf := statusMap(map[string]domain.OrderStatus{"yes": domain.StatusOpen, "no": domain.StatusOpen})

	toCancel, toFlatten := AwaitBalance(context.Background(), ids, statusOf)
	assert.Nil(t, toCancel)
	assert.Nil(t, toFlatten)
}

func TestAwaitBalance_UnfilledLiveLegGoesToCancel(t *testing.T) {
	ids := []string{"yes", "no"}
	statusOf := statusMap(map[string]domain.OrderStatus{"yes": domain.StatusOpen, "no": domain.StatusRejected})

	toCancel, toFlatten := AwaitBalance(context.Background(), ids, statusOf)
	assert.Equal(t, []string{"yes"}, toCancel)
	assert.Nil(t, toFlatten)
}

func TestAwaitBalance_FilledLegGoesToFlattenNotCancel(t *testing.T) {
	ids := []string{"yes", "no"}
	statusOf := statusMap(map[string]domain.OrderStatus{"yes": domain.StatusFilled, "no": domain.StatusRejected})

	toCancel, toFlatten := AwaitBalance(context.Background(), ids, statusOf)
	assert.Nil(t, toCancel)
	assert.Equal(t, []string{"yes"}, toFlatten)
}

func TestAwaitBalance_MixedLiveLegsSplitByStatus(t *testing.T) {
	ids := []string{"filled-leg", "open-leg", "dead-leg"}
	statusOf := statusMap(map[string]domain.OrderStatus{
		"filled-leg": domain.StatusFilled,
		"open-leg":   domain.StatusPartiallyFilled,
		"dead-leg":   domain.StatusFailed,
	})

	toCancel, toFlatten := AwaitBalance(context.Background(), ids, statusOf)
	assert.Equal(t, []string{"open-leg"}, toCancel)
	assert.Equal(t, []string{"filled-leg"}, toFlatten)
}

func TestAwaitBalance_AllTerminalWithoutFillIsBalanced(t *testing.T) {
	ids := []string{"yes", "no"}
	statusOf := statusMap(map[string]domain.OrderStatus{"yes": domain.StatusRejected, "no": domain.StatusFailed})

	toCancel, toFlatten := AwaitBalance(context.Background(), ids, statusOf)
	assert.Nil(t, toCancel)
	assert.Nil(t, toFlatten)
}

func TestAwaitBalance_ContextCancellationStopsWaitingOnPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	ids := []string{"stuck"}
	statusOf := statusMap(map[string]domain.OrderStatus{"stuck": domain.StatusSubmitted})

	toCancel, toFlatten := AwaitBalance(ctx, ids, statusOf)
	assert.Nil(t, toCancel)
	assert.Nil(t, toFlatten)
}
