// Package marketdata polls the quote vendor's REST API for option chains
// and underlying quotes, reshaping them into the runtime's symbol scheme
// and injecting them into the portfolio store.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"options-engine/pkg/types"
)

// Client is the quote vendor REST client. Every request waits on the
// shared token bucket before going out.
type Client struct {
	http   *resty.Client
	rl     *TokenBucket
	logger *slog.Logger
}

// NewClient creates a client for the given vendor base URL, authenticating
// with the bearer token.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   httpClient,
		rl:     newQuoteBucket(),
		logger: logger.With("component", "marketdata"),
	}
}

type chainResponse struct {
	Options struct {
		Option []chainOption `json:"option"`
	} `json:"options"`
}

type chainOption struct {
	Symbol       string  `json:"symbol"`
	RootSymbol   string  `json:"root_symbol"`
	Underlying   string  `json:"underlying"`
	Strike       float64 `json:"strike"`
	OptionType   string  `json:"option_type"` // "call" / "put"
	ContractSize float64 `json:"contract_size"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Last         float64 `json:"last"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
	Greeks       struct {
		Delta float64 `json:"delta"`
		Gamma float64 `json:"gamma"`
		Theta float64 `json:"theta"`
		Vega  float64 `json:"vega"`
		MidIV float64 `json:"mid_iv"`
	} `json:"greeks"`
}

type quoteResponse struct {
	Quotes struct {
		Quote struct {
			Symbol string  `json:"symbol"`
			Bid    float64 `json:"bid"`
			Ask    float64 `json:"ask"`
			Last   float64 `json:"last"`
		} `json:"quote"`
	} `json:"quotes"`
}

// ChainQuotes fetches one expiry's option chain with greeks. chainKey is
// "{class}_{yyyymmdd}"; the class is the vendor's query symbol, which for
// SPX weeklies differs from the runtime root.
func (c *Client) ChainQuotes(ctx context.Context, chainKey string) (types.ChainQuote, error) {
	class, datePart, ok := strings.Cut(chainKey, "_")
	if !ok {
		return types.ChainQuote{}, fmt.Errorf("invalid chain key %q", chainKey)
	}
	expiry, err := time.ParseInLocation("20060102", datePart, time.Local)
	if err != nil {
		return types.ChainQuote{}, fmt.Errorf("invalid chain key %q: %w", chainKey, err)
	}
	expiration := expiry.Format("2006-01-02")

	if err := c.rl.Wait(ctx); err != nil {
		return types.ChainQuote{}, err
	}

	var result chainResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":     class,
			"expiration": expiration,
			"greeks":     "true",
		}).
		SetResult(&result).
		Get("/markets/options/chains")
	if err != nil {
		return types.ChainQuote{}, fmt.Errorf("fetch chain %s: %w", chainKey, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.ChainQuote{}, fmt.Errorf("fetch chain %s: status %d: %s", chainKey, resp.StatusCode(), resp.String())
	}

	root := mappedRoot(class)
	quote := types.ChainQuote{
		ChainSymbol: root + "_" + datePart,
		Time:        time.Now(),
	}
	for _, opt := range result.Options.Option {
		optType := types.OptionCall
		if strings.HasPrefix(strings.ToLower(opt.OptionType), "p") {
			optType = types.OptionPut
		}
		size := opt.ContractSize
		if size == 0 {
			size = 100
		}

		bid := types.Round2(opt.Bid)
		ask := types.Round2(opt.Ask)
		last := types.Round2(opt.Last)
		if last == 0 {
			switch {
			case bid > 0 && ask > 0:
				last = types.Round2((bid + ask) / 2)
			case bid > 0:
				last = bid
			default:
				last = ask
			}
		}

		quote.Options = append(quote.Options, types.OptionQuote{
			Symbol:       types.OptionSymbol(root, expiry, optType, opt.Strike, size, "USD"),
			Bid:          bid,
			Ask:          ask,
			Last:         last,
			Volume:       opt.Volume,
			OpenInterest: opt.OpenInterest,
			Delta:        types.Round4(opt.Greeks.Delta),
			Gamma:        types.Round4(opt.Greeks.Gamma),
			Theta:        types.Round4(opt.Greeks.Theta),
			Vega:         types.Round4(opt.Greeks.Vega),
			MidIV:        types.Round4(opt.Greeks.MidIV),
		})
	}
	return quote, nil
}

// UnderlyingQuote fetches the underlying's quote. symbol is the runtime
// symbol; the vendor is queried by root.
func (c *Client) UnderlyingQuote(ctx context.Context, symbol string) (types.Tick, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return types.Tick{}, err
	}

	var result quoteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbols", types.SymbolRoot(symbol)).
		SetResult(&result).
		Get("/markets/quotes")
	if err != nil {
		return types.Tick{}, fmt.Errorf("fetch quote %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Tick{}, fmt.Errorf("fetch quote %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}

	q := result.Quotes.Quote
	return types.Tick{
		Symbol:   symbol,
		Exchange: types.ExchangeSmart,
		Time:     time.Now(),
		Bid:      types.Round2(q.Bid),
		Ask:      types.Round2(q.Ask),
		Last:     types.Round2(q.Last),
	}, nil
}

// mappedRoot folds the SPX weekly class onto the SPX root so chain quotes
// match the stored contract symbols.
func mappedRoot(class string) string {
	if class == "SPX" || class == "SPXW" {
		return "SPX"
	}
	return class
}
