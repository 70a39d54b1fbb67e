package remote

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/claim"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/listing"
)

// FilterStatus is the listing filter key carrying an order status.
const FilterStatus = "status"

// OrderSummary is one row of the order history.
type OrderSummary struct {
	OrderID           string            `json:"order_id"`
	DeviceName        string            `json:"device_name"`
	WeightKg          float64           `json:"weight"`
	Amount            claim.Cents       `json:"amount"`
	CarbonReductionKg float64           `json:"carbon_reduction"`
	Status            claim.OrderStatus `json:"status"`
	CreatedAt         string            `json:"created_at"`
}

// OrderStats aggregates the user's claimed orders.
type OrderStats struct {
	TotalCount        int64       `json:"total_count"`
	TotalWeightKg     float64     `json:"total_weight"`
	TotalAmount       claim.Cents `json:"total_amount"`
	TotalCarbonReduct float64     `json:"total_carbon"`
}

// TrackEvent is one step of an order's history.
type TrackEvent struct {
	Event      string `json:"event"`
	OccurredAt string `json:"occurred_at"`
	Detail     string `json:"detail,omitempty"`
}

// ListOrders fetches one page of the order history.
func (api *API) ListOrders(ctx context.Context, query listing.Query) ([]OrderSummary, error) {
	payload := pagePayload(query)
	if status, ok := query.Filter[FilterStatus]; ok {
		parsed, err := claim.ParseOrderStatus(status)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		payload[FilterStatus] = int(parsed)
	}
	var page pageWire[OrderSummary]
	if err := api.call(ctx, gateway.Request{Path: PathOrderList, Method: gateway.MethodGet, Payload: payload}, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// OrderStats fetches the user's aggregate figures.
func (api *API) OrderStats(ctx context.Context) (OrderStats, error) {
	var stats OrderStats
	err := api.call(ctx, gateway.Request{Path: PathOrderStats, Method: gateway.MethodGet}, &stats)
	return stats, err
}

// TrackOrder fetches the event history of an order.
func (api *API) TrackOrder(ctx context.Context, orderID string) ([]TrackEvent, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is empty", ErrInvalidArgument)
	}
	var events []TrackEvent
	err := api.call(ctx, gateway.Request{Path: fmt.Sprintf(PathOrderTrack, url.PathEscape(orderID)), Method: gateway.MethodGet}, &events)
	return events, err
}

// NewOrderHistory builds the paginated order history. The status filter
// accepts the wire integer or a status name.
func NewOrderHistory(api *API, pageSize int) (*listing.Paginator[OrderSummary], error) {
	if api == nil {
		return nil, fmt.Errorf("%w: api dependency is nil", ErrInvalidAPIConfig)
	}
	return listing.NewPaginator[OrderSummary](api.ListOrders, pageSize)
}

func pagePayload(query listing.Query) map[string]any {
	pageNumber := query.PageNumber
	if pageNumber < 1 {
		pageNumber = 1
	}
	pageSize := query.PageSize
	if pageSize < 1 {
		pageSize = listing.DefaultPageSize
	}
	return map[string]any{
		"page":      strconv.Itoa(pageNumber),
		"page_size": strconv.Itoa(pageSize),
	}
}
