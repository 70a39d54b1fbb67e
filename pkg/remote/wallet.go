package remote

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/claim"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/listing"
)

// WalletRecord is one wallet ledger row.
type WalletRecord struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Amount    claim.Cents `json:"amount"`
	CreatedAt string      `json:"created_at"`
	Remark    string      `json:"remark,omitempty"`
}

// ListWalletRecords fetches one page of the wallet ledger.
func (api *API) ListWalletRecords(ctx context.Context, query listing.Query) ([]WalletRecord, error) {
	var page pageWire[WalletRecord]
	if err := api.call(ctx, gateway.Request{Path: PathWalletRecords, Method: gateway.MethodGet, Payload: pagePayload(query)}, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// NewWalletLedger builds the paginated wallet ledger.
func NewWalletLedger(api *API, pageSize int) (*listing.Paginator[WalletRecord], error) {
	if api == nil {
		return nil, fmt.Errorf("%w: api dependency is nil", ErrInvalidAPIConfig)
	}
	return listing.NewPaginator[WalletRecord](api.ListWalletRecords, pageSize)
}
