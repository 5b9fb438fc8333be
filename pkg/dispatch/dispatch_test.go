package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posgateway/posgateway/pkg/posmodel"
)

func code(s string) *string { return &s }

func TestClassifyAutoDispatch(t *testing.T) {
	order := posmodel.NormalizedOrder{
		Items: []posmodel.NormalizedItem{{LineIndex: 0, ItemCode: code("I1"), Qty: 1}},
	}
	order.Recompute()
	d := Classify(order)
	require.Equal(t, RouteAutoDispatch, d.Route)
	require.Empty(t, d.Reasons)
}

func TestClassifyReviewQueueOnMissingItemCode(t *testing.T) {
	order := posmodel.NormalizedOrder{
		Items: []posmodel.NormalizedItem{{LineIndex: 0, ItemCode: nil, Qty: 1}},
	}
	order.Recompute()
	d := Classify(order)
	require.Equal(t, RouteReviewQueue, d.Route)
	require.Contains(t, d.Reasons, "item_missing_item_code")
}

func TestClassifyHonorsMergeMetadata(t *testing.T) {
	order := posmodel.NormalizedOrder{
		Items:    []posmodel.NormalizedItem{{LineIndex: 0, ItemCode: nil, Qty: 1}},
		Metadata: posmodel.Metadata{"dispatch_decision": "auto-dispatch"},
	}
	d := Classify(order)
	require.Equal(t, RouteAutoDispatch, d.Route)
	require.Equal(t, SourceMergeMetadata, d.Source)
}
