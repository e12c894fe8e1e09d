// Package collector ingests marketplace price ticks: it polls the P2P offer
// search endpoint, filters out low-quality advertisers, and appends one tick
// per cycle. It is the only writer of tick rows.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soyjavierquiroz/sentinel/internal/tick"
	"github.com/soyjavierquiroz/sentinel/internal/utils"
)

// Config holds the marketplace query and advertiser filter parameters.
type Config struct {
	URL   string
	Asset string
	Fiat  string

	MinMonthOrders int
	MinFinishRate  float64
	MinFiatAmount  float64
	MaxFiatAmount  float64
}

type Collector struct {
	store  tick.Store
	cfg    Config
	client *http.Client
}

func New(store tick.Store, cfg Config) *Collector {
	return &Collector{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type searchRequest struct {
	Asset     string   `json:"asset"`
	Fiat      string   `json:"fiat"`
	TradeType string   `json:"tradeType"`
	Page      int      `json:"page"`
	Rows      int      `json:"rows"`
	PayTypes  []string `json:"payTypes"`
	Order     string   `json:"order"`
	SortType  string   `json:"sortType"`
}

type searchItem struct {
	Adv struct {
		Price                string `json:"price"`
		MinSingleTransAmount string `json:"minSingleTransAmount"`
		MaxSingleTransAmount string `json:"maxSingleTransAmount"`
	} `json:"adv"`
	Advertiser struct {
		MonthOrderCount int     `json:"monthOrderCount"`
		MonthFinishRate float64 `json:"monthFinishRate"`
	} `json:"advertiser"`
}

type searchResponse struct {
	Data []searchItem `json:"data"`
}

// bestPrice returns the best offer price for the given trade side among
// advertisers passing the quality filters, or false when none qualify.
func (c *Collector) bestPrice(ctx context.Context, tradeType string) (decimal.Decimal, bool, error) {
	body, err := json.Marshal(searchRequest{
		Asset:     c.cfg.Asset,
		Fiat:      c.cfg.Fiat,
		TradeType: tradeType,
		Page:      1,
		Rows:      20,
		PayTypes:  []string{},
		Order:     "price",
		SortType:  "asc",
	})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		utils.GetLogger().Printf("Collector | %s search returned %s", tradeType, resp.Status)
		return decimal.Zero, false, fmt.Errorf("search request failed: %s", resp.Status)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to decode search response: %w", err)
	}

	for _, item := range parsed.Data {
		if !c.validOffer(item) {
			continue
		}
		price, err := decimal.NewFromString(item.Adv.Price)
		if err != nil {
			log.Printf("Collector | skipping offer with bad price %q: %v", item.Adv.Price, err)
			continue
		}
		return price, true, nil
	}
	return decimal.Zero, false, nil
}

func (c *Collector) validOffer(item searchItem) bool {
	if item.Advertiser.MonthOrderCount < c.cfg.MinMonthOrders {
		return false
	}
	if item.Advertiser.MonthFinishRate < c.cfg.MinFinishRate {
		return false
	}
	min, errMin := decimal.NewFromString(item.Adv.MinSingleTransAmount)
	max, errMax := decimal.NewFromString(item.Adv.MaxSingleTransAmount)
	if errMin != nil || errMax != nil {
		return false
	}
	// The offer's transaction band must overlap the configured fiat range.
	return min.LessThanOrEqual(decimal.NewFromFloat(c.cfg.MaxFiatAmount)) &&
		max.GreaterThanOrEqual(decimal.NewFromFloat(c.cfg.MinFiatAmount))
}

// Collect runs one ingestion cycle: fetch the best BUY and SELL offers,
// derive the mid price and spread, and append the tick.
func (c *Collector) Collect(ctx context.Context) error {
	buy, okBuy, err := c.bestPrice(ctx, "BUY")
	if err != nil {
		return fmt.Errorf("failed to fetch BUY offers: %w", err)
	}
	sell, okSell, err := c.bestPrice(ctx, "SELL")
	if err != nil {
		return fmt.Errorf("failed to fetch SELL offers: %w", err)
	}
	if !okBuy || !okSell {
		log.Printf("Collector | no valid offers (buy=%t sell=%t), skipping tick", okBuy, okSell)
		return nil
	}

	mid := buy.Add(sell).Div(decimal.NewFromInt(2))
	spreadPct := sell.Sub(buy).Div(mid).Mul(decimal.NewFromInt(100))

	t := tick.Tick{
		Timestamp: time.Now().UTC(),
		Asset:     c.cfg.Asset,
		Fiat:      c.cfg.Fiat,
		BuyBest:   buy,
		SellBest:  sell,
		MidPrice:  mid,
		SpreadPct: spreadPct,
	}
	if err := c.store.SaveTick(ctx, t); err != nil {
		return fmt.Errorf("failed to save tick: %w", err)
	}

	log.Printf("Collector | tick saved: buy=%s sell=%s spread=%s%%",
		buy.StringFixed(4), sell.StringFixed(4), spreadPct.StringFixed(2))
	return nil
}
