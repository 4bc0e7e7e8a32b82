package indexer

import (
	"strconv"
	"time"

	"github.com/perpwatch/engine/internal/domain"
)

// FillQuery selects fills for one account. Zero-valued optional fields are
// omitted from the request.
type FillQuery struct {
	Address           string
	Subaccount        int
	Ticker            string
	CreatedOnOrAfter  time.Time
	CreatedBeforeOrAt time.Time
	// MaxResults caps the total number of fills fetched across pages.
	// 0 means the client's configured page budget applies.
	MaxResults int
}

// PnlQuery selects PnL snapshots for one account within a window.
type PnlQuery struct {
	Address           string
	Subaccount        int
	CreatedOnOrAfter  time.Time
	CreatedBeforeOrAt time.Time
}

// wireFill is the indexer's JSON representation of a fill. Numeric fields
// arrive as decimal strings.
type wireFill struct {
	ID          string  `json:"id"`
	Side        string  `json:"side"`
	Market      string  `json:"market"`
	Price       string  `json:"price"`
	Size        string  `json:"size"`
	Fee         string  `json:"fee"`
	RealizedPnl *string `json:"realizedPnl,omitempty"`
	EffectiveAt string  `json:"effectiveAt"`
	CreatedAt   string  `json:"createdAt"`
}

// wirePnlSnapshot is the indexer's JSON representation of a historical PnL
// tick.
type wirePnlSnapshot struct {
	RealizedPnl string `json:"realizedPnl"`
	NetPnl      string `json:"netPnl"`
	CreatedAt   string `json:"createdAt"`
}

type fillsResponse struct {
	Fills []wireFill `json:"fills"`
}

type pnlResponse struct {
	HistoricalPnl []wirePnlSnapshot `json:"historicalPnl"`
}

// toDomain converts a wire fill into the domain type. Records with
// unparsable timestamps are dropped by the caller (nil return); bad numeric
// fields degrade to zero rather than discarding the fill.
func (w wireFill) toDomain() *domain.Fill {
	createdAt, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return nil
	}
	effectiveAt, err := time.Parse(time.RFC3339, w.EffectiveAt)
	if err != nil {
		effectiveAt = createdAt
	}

	f := &domain.Fill{
		ID:          w.ID,
		Side:        domain.Side(w.Side),
		Price:       parseDecimal(w.Price),
		Size:        parseDecimal(w.Size),
		Fee:         parseDecimal(w.Fee),
		Ticker:      w.Market,
		EffectiveAt: effectiveAt,
		CreatedAt:   createdAt,
	}
	if w.RealizedPnl != nil {
		pnl := parseDecimal(*w.RealizedPnl)
		f.RealizedPnl = &pnl
	}
	return f
}

// toDomain converts a wire snapshot, dropping records with unparsable
// timestamps.
func (w wirePnlSnapshot) toDomain() *domain.PnlSnapshot {
	createdAt, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return nil
	}
	return &domain.PnlSnapshot{
		RealizedPnl: parseDecimal(w.RealizedPnl),
		NetPnl:      parseDecimal(w.NetPnl),
		CreatedAt:   createdAt,
	}
}

func parseDecimal(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
