package portfolio

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "tokenflow/config"
	"tokenflow/logger"
)

// Position is one asset's holding: signed quantity (positive long, negative
// short) and the volume-weighted average entry price. Entry is meaningless
// while the quantity is zero.
type Position struct {
	Qty   float64 `json:"qty"`
	Entry float64 `json:"entry"`
}

// TradeLog is one line of the per-step execution record, covering executed
// trades, skips and forced stop closes alike.
type TradeLog struct {
	Asset  string  `json:"asset"`
	Action string  `json:"action"`
	Status string  `json:"status"`
	Price  float64 `json:"price,omitempty"`
	Qty    float64 `json:"qty,omitempty"`
	Cash   float64 `json:"cash,omitempty"`
}

// StepReport describes everything that happened in one Step call.
type StepReport struct {
	ReportID    string              `json:"report_id"`
	Timestamp   time.Time           `json:"timestamp"`
	PrevEquity  float64             `json:"prev_equity"`
	Equity      float64             `json:"equity"`
	Cash        float64             `json:"cash"`
	Positions   map[string]Position `json:"positions"`
	Trades      []TradeLog          `json:"trades"`
	TradesCount int                 `json:"trades_count"`
}

// Trade log statuses.
const (
	StatusExecuted  = "executed"
	StatusNoPrice   = "skip_no_price"
	StatusNoCash    = "skip_no_cash"
	StatusStopLong  = "stop_long"
	StatusStopShort = "stop_short"
)

// Simulator is a per-run portfolio state machine. It owns cash and the
// position map; mutations happen only inside Step and Reset. Equity is
// recomputed from scratch on every observation rather than carried
// incrementally, so cash and positions can never drift apart.
type Simulator struct {
	cfg appconfig.ExecutionConfig
	log *logger.Entry

	mu         sync.Mutex
	cash       float64
	positions  map[string]Position
	lastEquity float64
}

func NewSimulator(cfg *appconfig.Config) *Simulator {
	exec := cfg.Execution
	return &Simulator{
		cfg:        exec,
		log:        logger.GetLogger().WithComponent("portfolio"),
		cash:       exec.StartCash,
		positions:  make(map[string]Position),
		lastEquity: exec.StartCash,
	}
}

func (s *Simulator) feeRate() float64      { return s.cfg.FeeBps / 10_000.0 }
func (s *Simulator) slippageRate() float64 { return s.cfg.SlippageBps / 10_000.0 }

// priceWithSlippage moves the quoted price against the trader: buys pay up,
// sells receive less.
func (s *Simulator) priceWithSlippage(price float64, side float64) float64 {
	slip := s.slippageRate()
	if side > 0 {
		return price * (1.0 + slip)
	}
	return price * (1.0 - slip)
}

// applyFee reduces a cash flow by the fee on its absolute notional. The fee
// always costs money whichever direction the flow runs.
func (s *Simulator) applyFee(flow float64) float64 {
	fee := flow * s.feeRate()
	if fee < 0 {
		fee = -fee
	}
	return flow - fee
}

// markToMarket values the portfolio at the given prices. Positions without a
// positive price contribute nothing rather than poisoning the total.
func (s *Simulator) markToMarket(prices map[string]float64) float64 {
	equity := s.cash
	for asset, pos := range s.positions {
		px := prices[asset]
		if px > 0 && pos.Qty != 0 {
			equity += pos.Qty * px
		}
	}
	return equity
}

// syncAssets guarantees a flat position entry for every asset in the batch.
func (s *Simulator) syncAssets(assets []string) {
	for _, asset := range assets {
		if _, ok := s.positions[asset]; !ok {
			s.positions[asset] = Position{}
		}
	}
}

// Step executes one decision cycle: actions are -1 sell, 0 hold, +1 buy per
// asset, prices map asset to its latest close. The step budget is
// risk_per_step of the prior step's closing equity split equally across the
// non-hold actions; sells are not cash-constrained since they can open or
// extend a short. After the ordinary trades a stop-loss sweep force-closes
// any position whose price has moved past the fixed threshold from entry.
// The returned reward is the equity change since the prior step's close, so
// a held position's price move between steps shows up in the reward.
//
// A length mismatch between assets and actions is a caller bug and the only
// hard failure; dirty data (missing price, exhausted cash) degrades to a
// skip entry in the report.
func (s *Simulator) Step(assets []string, actions []float64, prices map[string]float64) (float64, *StepReport, error) {
	if len(assets) != len(actions) {
		return 0, nil, fmt.Errorf("portfolio: %d assets but %d actions", len(assets), len(actions))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncAssets(assets)
	// Equity carried from the prior step's close: price moves since then
	// accrue to this step's reward, and the budget keys off the same figure.
	prevEquity := s.lastEquity

	tradeCount := 0
	for _, a := range actions {
		if a != 0 {
			tradeCount++
		}
	}
	divisor := tradeCount
	if divisor < 1 {
		divisor = 1
	}
	budgetPerTrade := prevEquity * s.cfg.RiskPerStep / float64(divisor)

	trades := make([]TradeLog, 0, len(assets))
	executed := 0

	for i, asset := range assets {
		action := actions[i]
		if action == 0 {
			continue
		}

		px := prices[asset]
		if px <= 0 {
			trades = append(trades, TradeLog{Asset: asset, Action: actionName(action), Status: StatusNoPrice})
			continue
		}

		side := 1.0
		if action < 0 {
			side = -1.0
		}

		notional := budgetPerTrade
		if side > 0 && s.cash < notional {
			notional = s.cash
		}
		if notional <= 0 {
			trades = append(trades, TradeLog{Asset: asset, Action: actionName(action), Status: StatusNoCash})
			continue
		}

		execPx := s.priceWithSlippage(px, side)
		qty := notional / execPx * side

		s.cash += s.applyFee(-qty * execPx)

		pos := s.positions[asset]
		newQty := pos.Qty + qty
		switch {
		case pos.Qty == 0 || sameSign(pos.Qty, qty):
			if newQty != 0 {
				pos.Entry = (pos.Entry*abs(pos.Qty) + execPx*abs(qty)) / abs(newQty)
			}
		case newQty == 0:
			pos.Entry = 0
		case !sameSign(pos.Qty, newQty):
			// Reduced past zero: the flip starts a fresh cost basis.
			pos.Entry = execPx
		}
		pos.Qty = newQty
		s.positions[asset] = pos

		executed++
		trades = append(trades, TradeLog{
			Asset:  asset,
			Action: actionName(action),
			Status: StatusExecuted,
			Price:  execPx,
			Qty:    qty,
			Cash:   s.cash,
		})
	}

	trades = append(trades, s.sweepStops(prices)...)

	equity := s.markToMarket(prices)
	reward := equity - prevEquity
	s.lastEquity = equity

	report := &StepReport{
		ReportID:    uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		PrevEquity:  prevEquity,
		Equity:      equity,
		Cash:        s.cash,
		Positions:   s.openPositions(),
		Trades:      trades,
		TradesCount: executed,
	}

	s.log.WithFields(logger.Fields{
		"prev_equity":  prevEquity,
		"equity":       equity,
		"cash":         s.cash,
		"trades_count": executed,
	}).Debug("portfolio step")

	return reward, report, nil
}

// sweepStops force-closes every open position whose price has crossed the
// fixed stop threshold. It runs after ordinary execution on post-trade
// positions, so a position opened this very step can already be stopped out.
// Assets are visited in sorted order to keep the log deterministic.
func (s *Simulator) sweepStops(prices map[string]float64) []TradeLog {
	assets := make([]string, 0, len(s.positions))
	for asset := range s.positions {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	var closed []TradeLog
	for _, asset := range assets {
		pos := s.positions[asset]
		if pos.Qty == 0 {
			continue
		}
		px := prices[asset]
		if px <= 0 {
			continue
		}

		var status string
		var execPx float64
		switch {
		case pos.Qty > 0 && px <= pos.Entry*(1.0-s.cfg.StopLossPct):
			status = StatusStopLong
			execPx = s.priceWithSlippage(px, -1)
		case pos.Qty < 0 && px >= pos.Entry*(1.0+s.cfg.StopLossPct):
			status = StatusStopShort
			execPx = s.priceWithSlippage(px, 1)
		default:
			continue
		}

		s.cash += s.applyFee(pos.Qty * execPx)
		closed = append(closed, TradeLog{
			Asset:  asset,
			Action: "stop",
			Status: status,
			Price:  execPx,
			Qty:    -pos.Qty,
			Cash:   s.cash,
		})
		s.positions[asset] = Position{}

		s.log.WithFields(logger.Fields{
			"asset": asset,
			"price": execPx,
		}).Warn("stop-loss close")
	}

	return closed
}

// openPositions copies the nonzero positions for a report snapshot.
func (s *Simulator) openPositions() map[string]Position {
	out := make(map[string]Position)
	for asset, pos := range s.positions {
		if pos.Qty != 0 {
			out[asset] = pos
		}
	}
	return out
}

// Cash returns the current cash balance.
func (s *Simulator) Cash() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// Equity marks the portfolio to the given prices.
func (s *Simulator) Equity(prices map[string]float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markToMarket(prices)
}

// Position returns the current position for one asset, flat when unknown.
func (s *Simulator) Position(asset string) Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[asset]
}

// Reset restores the starting cash and clears every position, for use
// between independent simulation episodes.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cash = s.cfg.StartCash
	s.positions = make(map[string]Position)
	s.lastEquity = s.cfg.StartCash

	s.log.Info("simulator reset")
}

func actionName(a float64) string {
	if a > 0 {
		return "buy"
	}
	return "sell"
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
