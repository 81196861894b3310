package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/minwoocho/stock-auto-trader/pkg/types"
)

const (
	realBaseURL    = "https://openapi.koreainvestment.com:9443"
	sandboxBaseURL = "https://openapivts.koreainvestment.com:29443"

	trInquirePrice = "FHKST01010100"
	trDailyCandles = "FHKST03010100"
	trIndexPrice   = "FHPUP02100000"
	trOrderBuy     = "TTTC0802U"
	trOrderSell    = "TTTC0801U"
)

// KISConfig holds credentials and tuning for the KIS open API client.
type KISConfig struct {
	AppKey      string        `json:"app_key"`
	AppSecret   string        `json:"app_secret"`
	AccountNo   string        `json:"account_no"`
	Sandbox     bool          `json:"sandbox"`
	CallTimeout time.Duration `json:"call_timeout"`
	RatePerSec  float64       `json:"rate_per_sec"`
}

// KISClient implements Broker against the Korea Investment & Securities
// open API. All calls are rate limited and routed through a circuit
// breaker so a misbehaving upstream cannot stall the callers.
type KISClient struct {
	cfg     KISConfig
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewKISClient creates a client. CallTimeout bounds every individual HTTP
// round trip; the per-operation context may be shorter.
func NewKISClient(cfg KISConfig, log zerolog.Logger) *KISClient {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 15
	}
	base := realBaseURL
	if cfg.Sandbox {
		base = sandboxBaseURL
	}

	settings := gobreaker.Settings{
		Name:    "kis-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	return &KISClient{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: cfg.CallTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log.With().Str("component", "kis").Logger(),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *KISClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", NewAPIError(resp.StatusCode, "token request rejected")
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.accessToken = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *KISClient) call(ctx context.Context, method, path, trID string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (any, error) {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}

		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("authorization", "Bearer "+token)
		req.Header.Set("appkey", c.cfg.AppKey)
		req.Header.Set("appsecret", c.cfg.AppSecret)
		req.Header.Set("tr_id", trID)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http call: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, NewAPIError(resp.StatusCode, "non-200 response", path)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	return err
}

type priceResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg    string `json:"msg1"`
	Output struct {
		Name      string `json:"hts_kor_isnm"`
		Price     string `json:"stck_prpr"`
		ChangePct string `json:"prdy_ctrt"`
		High      string `json:"stck_hgpr"`
		Low       string `json:"stck_lwpr"`
		Volume    string `json:"acml_vol"`
		AvgVolume string `json:"avrg_vol"`
		PBR       string `json:"pbr"`
		PER       string `json:"per"`
		ROE       string `json:"roe_val"`
		PSR       string `json:"psr"`
	} `json:"output"`
}

// GetSnapshot fetches the current quote and valuation metrics. Metrics the
// upstream leaves blank come back as nil pointers, never as zero values.
func (c *KISClient) GetSnapshot(ctx context.Context, securityID string) (*types.MarketSnapshot, error) {
	path := fmt.Sprintf("/uapi/domestic-stock/v1/quotations/inquire-price?FID_COND_MRKT_DIV_CODE=J&FID_INPUT_ISCD=%s", securityID)

	var pr priceResponse
	if err := c.call(ctx, http.MethodGet, path, trInquirePrice, nil, &pr); err != nil {
		return nil, WrapAPIError("get snapshot", err)
	}
	if pr.RtCd != "0" {
		return nil, WrapAPIError("get snapshot", NewAPIError(http.StatusBadGateway, pr.Msg))
	}

	price, err := strconv.ParseFloat(pr.Output.Price, 64)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("snapshot for %s: %w", securityID, ErrDataAbsent)
	}
	changePct, _ := strconv.ParseFloat(pr.Output.ChangePct, 64)

	snap := &types.MarketSnapshot{
		SecurityID:     securityID,
		Name:           pr.Output.Name,
		Price:          price,
		DailyChangePct: changePct,
		VolumeRatio:    volumeRatio(pr.Output.Volume, pr.Output.AvgVolume),
		Volatility:     intradayVolatility(changePct, pr.Output.High, pr.Output.Low, price),
		Valuation: types.Valuation{
			PBR: parseOptional(pr.Output.PBR),
			PER: parseOptional(pr.Output.PER),
			ROE: parseOptional(pr.Output.ROE),
			PSR: parseOptional(pr.Output.PSR),
		},
		Timestamp: time.Now(),
	}
	return snap, nil
}

type orderResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg    string `json:"msg1"`
	Output struct {
		OrderNo string `json:"ODNO"`
	} `json:"output"`
}

func (c *KISClient) submitOrder(ctx context.Context, trID, securityID string, quantity int64) (*types.Fill, error) {
	body, _ := json.Marshal(map[string]string{
		"CANO":         c.cfg.AccountNo,
		"ACNT_PRDT_CD": "01",
		"PDNO":         securityID,
		"ORD_DVSN":     "01", // market order
		"ORD_QTY":      strconv.FormatInt(quantity, 10),
		"ORD_UNPR":     "0",
	})

	var or orderResponse
	if err := c.call(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-cash", trID, body, &or); err != nil {
		return nil, err
	}
	if or.RtCd != "0" {
		return nil, NewAPIError(http.StatusBadGateway, or.Msg)
	}

	orderID := or.Output.OrderNo
	if orderID == "" {
		orderID = uuid.NewString()
	}
	return &types.Fill{
		OrderID:    orderID,
		SecurityID: securityID,
		Quantity:   quantity,
		Timestamp:  time.Now(),
	}, nil
}

// SubmitEntryOrder places a market buy order.
func (c *KISClient) SubmitEntryOrder(ctx context.Context, securityID string, quantity int64) (*types.Fill, error) {
	fill, err := c.submitOrder(ctx, trOrderBuy, securityID, quantity)
	if err != nil {
		return nil, WrapAPIError("entry order", err)
	}
	c.log.Info().Str("security", securityID).Int64("qty", quantity).Str("order_id", fill.OrderID).Msg("entry order filled")
	return fill, nil
}

// SubmitExitOrder places a market sell order.
func (c *KISClient) SubmitExitOrder(ctx context.Context, securityID string, quantity int64) (*types.Fill, error) {
	fill, err := c.submitOrder(ctx, trOrderSell, securityID, quantity)
	if err != nil {
		return nil, WrapAPIError("exit order", err)
	}
	c.log.Info().Str("security", securityID).Int64("qty", quantity).Str("order_id", fill.OrderID).Msg("exit order filled")
	return fill, nil
}

type candlesResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg    string `json:"msg1"`
	Output []struct {
		Date   string `json:"stck_bsop_date"`
		Open   string `json:"stck_oprc"`
		High   string `json:"stck_hgpr"`
		Low    string `json:"stck_lwpr"`
		Close  string `json:"stck_clpr"`
		Volume string `json:"acml_vol"`
	} `json:"output2"`
}

// GetDailyCandles fetches up to count daily bars, oldest first. Bars the
// upstream cannot parse are skipped rather than failing the whole series.
func (c *KISClient) GetDailyCandles(ctx context.Context, securityID string, count int) ([]types.OHLCV, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -count*2) // calendar days to cover trading days
	path := fmt.Sprintf("/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice"+
		"?FID_COND_MRKT_DIV_CODE=J&FID_INPUT_ISCD=%s&FID_INPUT_DATE_1=%s&FID_INPUT_DATE_2=%s&FID_PERIOD_DIV_CODE=D&FID_ORG_ADJ_PRC=0",
		securityID, start.Format("20060102"), end.Format("20060102"))

	var cr candlesResponse
	if err := c.call(ctx, http.MethodGet, path, trDailyCandles, nil, &cr); err != nil {
		return nil, WrapAPIError("get daily candles", err)
	}
	if cr.RtCd != "0" {
		return nil, WrapAPIError("get daily candles", NewAPIError(http.StatusBadGateway, cr.Msg))
	}

	// Upstream returns newest first.
	out := make([]types.OHLCV, 0, len(cr.Output))
	for i := len(cr.Output) - 1; i >= 0; i-- {
		row := cr.Output[i]
		closeP, err := strconv.ParseFloat(row.Close, 64)
		if err != nil || closeP <= 0 {
			continue
		}
		open, _ := strconv.ParseFloat(row.Open, 64)
		high, _ := strconv.ParseFloat(row.High, 64)
		low, _ := strconv.ParseFloat(row.Low, 64)
		vol, _ := strconv.ParseFloat(row.Volume, 64)
		ts, _ := time.ParseInLocation("20060102", row.Date, time.Local)
		out = append(out, types.OHLCV{
			Open: open, High: high, Low: low, Close: closeP, Volume: vol, Timestamp: ts,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("candles for %s: %w", securityID, ErrDataAbsent)
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

type indexResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg    string `json:"msg1"`
	Output struct {
		ChangePct string `json:"bstp_nmix_prdy_ctrt"`
	} `json:"output"`
}

// GetIndexChangePct returns today's percent change of a market index.
func (c *KISClient) GetIndexChangePct(ctx context.Context, indexCode string) (float64, error) {
	path := fmt.Sprintf("/uapi/domestic-stock/v1/quotations/inquire-index-price?FID_COND_MRKT_DIV_CODE=U&FID_INPUT_ISCD=%s", indexCode)

	var ir indexResponse
	if err := c.call(ctx, http.MethodGet, path, trIndexPrice, nil, &ir); err != nil {
		return 0, WrapAPIError("get index price", err)
	}
	if ir.RtCd != "0" {
		return 0, WrapAPIError("get index price", NewAPIError(http.StatusBadGateway, ir.Msg))
	}
	change, err := strconv.ParseFloat(ir.Output.ChangePct, 64)
	if err != nil {
		return 0, fmt.Errorf("index %s: %w", indexCode, ErrDataAbsent)
	}
	return change, nil
}

func parseOptional(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// intradayVolatility blends the absolute daily change with the high-low
// range relative to the current price. Falls back to the daily change when
// the range is unavailable.
func intradayVolatility(changePct float64, high, low string, price float64) float64 {
	daily := math.Abs(changePct)
	h, err1 := strconv.ParseFloat(high, 64)
	l, err2 := strconv.ParseFloat(low, 64)
	if err1 != nil || err2 != nil || price <= 0 || h <= l {
		return daily
	}
	intraday := (h - l) / price * 100
	return (daily + intraday) / 2
}

func volumeRatio(current, average string) float64 {
	cur, err1 := strconv.ParseFloat(current, 64)
	avg, err2 := strconv.ParseFloat(average, 64)
	if err1 != nil || err2 != nil || avg <= 0 {
		return 1.0
	}
	return cur / avg
}
