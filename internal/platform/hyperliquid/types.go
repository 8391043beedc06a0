package hyperliquid

import (
	"encoding/json"
	"strconv"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// ---------------------------------------------------------------------------
// Info endpoint payloads
// ---------------------------------------------------------------------------

// metaResponse is the perp universe returned by {"type":"meta"}.
type metaResponse struct {
	Universe []assetMeta `json:"universe"`
}

type assetMeta struct {
	Name       string `json:"name"`
	SzDecimals int    `json:"szDecimals"`
	Delisted   bool   `json:"isDelisted,omitempty"`
}

// spotMetaResponse is the spot universe returned by {"type":"spotMeta"}.
// Spot pairs reference token indices; the pair index feeds the 10000+index
// market id convention.
type spotMetaResponse struct {
	Universe []spotPairMeta `json:"universe"`
	Tokens   []spotToken    `json:"tokens"`
}

type spotPairMeta struct {
	Name   string `json:"name"`
	Index  int    `json:"index"`
	Tokens [2]int `json:"tokens"`
}

type spotToken struct {
	Name       string `json:"name"`
	SzDecimals int    `json:"szDecimals"`
	Index      int    `json:"index"`
}

// assetCtx carries per-market live pricing from metaAndAssetCtxs.
type assetCtx struct {
	Funding   string   `json:"funding"`
	MarkPx    string   `json:"markPx"`
	MidPx     *string  `json:"midPx"`
	OraclePx  string   `json:"oraclePx"`
	ImpactPxs []string `json:"impactPxs"`
}

// clearinghouseState is the per-user position snapshot.
type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin    string `json:"coin"`
			Szi     string `json:"szi"`
			EntryPx string `json:"entryPx"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// ---------------------------------------------------------------------------
// Exchange endpoint payloads
// ---------------------------------------------------------------------------

// orderAction is the signed order action. Field names follow the wire
// format exactly; prices and sizes are strings to preserve precision.
type orderAction struct {
	Type     string      `json:"type"`
	Orders   []wireOrder `json:"orders"`
	Grouping string      `json:"grouping"`
}

type wireOrder struct {
	Asset      int           `json:"a"`
	IsBuy      bool          `json:"b"`
	LimitPx    string        `json:"p"`
	Sz         string        `json:"s"`
	ReduceOnly bool          `json:"r"`
	Type       wireOrderType `json:"t"`
	Cloid      string        `json:"c,omitempty"`
}

type wireOrderType struct {
	Limit   *limitType   `json:"limit,omitempty"`
	Trigger *triggerType `json:"trigger,omitempty"`
}

type limitType struct {
	Tif string `json:"tif"` // "Alo", "Ioc", "Gtc"
}

type triggerType struct {
	IsMarket  bool   `json:"isMarket"`
	TriggerPx string `json:"triggerPx"`
	TpSl      string `json:"tpsl"`
}

// cancelAction cancels by venue order id.
type cancelAction struct {
	Type    string       `json:"type"`
	Cancels []wireCancel `json:"cancels"`
}

type wireCancel struct {
	Asset int   `json:"a"`
	Oid   int64 `json:"o"`
}

// cancelByCloidAction cancels by client order id when the venue oid was
// never learned (e.g. a timed-out submission).
type cancelByCloidAction struct {
	Type    string            `json:"type"`
	Cancels []wireCloidCancel `json:"cancels"`
}

type wireCloidCancel struct {
	Asset int    `json:"asset"`
	Cloid string `json:"cloid"`
}

// exchangeResponse is the envelope the exchange endpoint answers with.
type exchangeResponse struct {
	Status   string `json:"status"`
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderStatusEntry `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

type orderStatusEntry struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		Oid     int64  `json:"oid"`
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

// interpret maps one status entry plus the raw body into a SubmitResult.
func (e orderStatusEntry) interpret(raw json.RawMessage) domain.SubmitResult {
	switch {
	case e.Filled != nil:
		return domain.SubmitResult{
			Status:       domain.SubmitFilled,
			VenueOrderID: oidString(e.Filled.Oid),
			AvgFillPrice: e.Filled.AvgPx,
			FilledSize:   e.Filled.TotalSz,
			Raw:          raw,
		}
	case e.Resting != nil:
		return domain.SubmitResult{
			Status:       domain.SubmitResting,
			VenueOrderID: oidString(e.Resting.Oid),
			Raw:          raw,
		}
	default:
		return domain.SubmitResult{
			Status: domain.SubmitRejected,
			Reason: e.Error,
			Raw:    raw,
		}
	}
}

func oidString(oid int64) string {
	return strconv.FormatInt(oid, 10)
}
