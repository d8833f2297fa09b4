package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/dex-api/internal/auth"
	"github.com/ksred/dex-api/internal/settlement"
	"github.com/ksred/dex-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minOrders     = 10
	maxOrders     = 50
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	initialSupply = 1_000_000_000
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// apiEnvelope mirrors the server's response wrapper
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// simulationClient handles HTTP communication with the DEX API for one account
type simulationClient struct {
	baseURL   string
	account   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient authenticates one account against the API
func newSimulationClient(apiKey, apiSecret string, stats map[string]*routeStats) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		account: apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		stats: stats,
	}

	token, err := sc.authenticate(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate %s: %w", apiKey, err)
	}
	sc.authToken = token

	return sc, nil
}

// do performs an authenticated request and decodes the response envelope
func (sc *simulationClient) do(stat, method, path string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[stat].addDuration(time.Since(start))
	}()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[stat].addFailure()
		return err
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		sc.stats[stat].addFailure()
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}

	if !envelope.Success {
		sc.stats[stat].addFailure()
		if envelope.Error != nil {
			return fmt.Errorf("%s %s failed: %s (%s)", method, path, envelope.Error.Message, envelope.Error.Code)
		}
		return fmt.Errorf("%s %s failed with status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		return "", err
	}

	return result.Token, nil
}

func (sc *simulationClient) issueToken(symbol, name string, supply uint64) error {
	return sc.do("issue", "POST", "/api/v1/internal/tokens", types.IssueTokenRequest{
		Symbol: symbol,
		Name:   name,
		Supply: supply,
	}, nil)
}

func (sc *simulationClient) approve(symbol, spender string, amount uint64) error {
	return sc.do("approve", "POST", fmt.Sprintf("/api/v1/tokens/%s/approve", symbol), types.ApproveRequest{
		Spender: spender,
		Amount:  amount,
	}, nil)
}

func (sc *simulationClient) balanceOf(symbol string) (uint64, error) {
	var balance types.BalanceResponse
	err := sc.do("balance", "GET", fmt.Sprintf("/api/v1/tokens/%s/balance", symbol), nil, &balance)
	return balance.Amount, err
}

// createOrder submits a new order and returns its per-asset id
func (sc *simulationClient) createOrder(offeredAsset, requestedAsset string, offeredAmount, requestedAmount uint64) (uint64, error) {
	var order struct {
		OrderID uint64 `json:"order_id"`
	}
	err := sc.do("create", "POST", "/api/v1/orders", types.CreateOrderRequest{
		OfferedAsset:    offeredAsset,
		RequestedAsset:  requestedAsset,
		OfferedAmount:   offeredAmount,
		RequestedAmount: requestedAmount,
	}, &order)
	return order.OrderID, err
}

func (sc *simulationClient) fillOrder(asset string, orderID uint64) error {
	return sc.do("fill", "POST", fmt.Sprintf("/api/v1/orders/%s/%d/fill", asset, orderID), nil, nil)
}

func (sc *simulationClient) getOrder(asset string, orderID uint64) (map[string]interface{}, error) {
	var order map[string]interface{}
	err := sc.do("get", "GET", fmt.Sprintf("/api/v1/orders/%s/%d", asset, orderID), nil, &order)
	return order, err
}

func (sc *simulationClient) getOrderCount(asset string) (uint64, error) {
	var count types.OrderCountResponse
	err := sc.do("count", "GET", fmt.Sprintf("/api/v1/orders/%s/count", asset), nil, &count)
	return count.Count, err
}

func main() {
	stats := map[string]*routeStats{
		"auth":    {name: "Authentication"},
		"issue":   {name: "Issue Token"},
		"approve": {name: "Approve"},
		"balance": {name: "Get Balance"},
		"create":  {name: "Create Order"},
		"fill":    {name: "Fill Order"},
		"get":     {name: "Get Order"},
		"count":   {name: "Get Order Count"},
	}

	maker, err := newSimulationClient(auth.TestMakerAPIKey, auth.TestMakerAPISecret, stats)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create maker client")
	}
	taker, err := newSimulationClient(auth.TestTakerAPIKey, auth.TestTakerAPISecret, stats)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create taker client")
	}

	// Fresh token symbols per run so reruns against a persistent database
	// never collide with earlier issuances
	suffix := strings.ToUpper(uuid.New().String()[:6])
	offeredAsset := "TKA" + suffix
	requestedAsset := "TKB" + suffix

	log.Info().
		Str("offered_asset", offeredAsset).
		Str("requested_asset", requestedAsset).
		Msg("issuing simulation tokens")

	if err := maker.issueToken(offeredAsset, "Simulation Token A", initialSupply); err != nil {
		log.Fatal().Err(err).Msg("failed to issue offered token")
	}
	if err := taker.issueToken(requestedAsset, "Simulation Token B", initialSupply); err != nil {
		log.Fatal().Err(err).Msg("failed to issue requested token")
	}

	numOrders := rand.Intn(maxOrders-minOrders+1) + minOrders
	log.Info().Int("num_orders", numOrders).Msg("starting simulation")

	// Blanket approvals for the escrow account
	if err := maker.approve(offeredAsset, settlement.EscrowAccount, initialSupply); err != nil {
		log.Fatal().Err(err).Msg("maker approval failed")
	}
	if err := taker.approve(requestedAsset, settlement.EscrowAccount, initialSupply); err != nil {
		log.Fatal().Err(err).Msg("taker approval failed")
	}

	// Maker creates orders
	orderIDs := make([]uint64, 0, numOrders)
	var totalOffered, totalRequested uint64
	for i := 0; i < numOrders; i++ {
		offered := uint64(rand.Intn(900) + 100)
		requested := uint64(rand.Intn(1800) + 200)

		id, err := maker.createOrder(offeredAsset, requestedAsset, offered, requested)
		if err != nil {
			log.Error().Err(err).Msg("order creation failed")
			continue
		}
		orderIDs = append(orderIDs, id)
		totalOffered += offered
		totalRequested += requested
	}

	count, err := maker.getOrderCount(offeredAsset)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read order count")
	}
	log.Info().Uint64("order_count", count).Int("created", len(orderIDs)).Msg("orders created")

	// Taker fills all orders with a small worker pool
	var wg sync.WaitGroup
	work := make(chan uint64, len(orderIDs))
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				if err := taker.fillOrder(offeredAsset, id); err != nil {
					log.Error().Err(err).Uint64("order_id", id).Msg("fill failed")
				}
			}
		}()
	}
	for _, id := range orderIDs {
		work <- id
	}
	close(work)
	wg.Wait()

	// Verify every order reports filled and the balances add up
	filled := 0
	for _, id := range orderIDs {
		order, err := taker.getOrder(offeredAsset, id)
		if err != nil {
			log.Error().Err(err).Uint64("order_id", id).Msg("failed to read order")
			continue
		}
		if isFilled, ok := order["is_filled"].(bool); ok && isFilled {
			filled++
		}
	}

	takerOffered, _ := taker.balanceOf(offeredAsset)
	makerRequested, _ := maker.balanceOf(requestedAsset)

	log.Info().
		Int("filled", filled).
		Int("created", len(orderIDs)).
		Uint64("taker_offered_balance", takerOffered).
		Uint64("expected_taker_offered", totalOffered).
		Uint64("maker_requested_balance", makerRequested).
		Uint64("expected_maker_requested", totalRequested).
		Msg("simulation settled")

	if takerOffered != totalOffered || makerRequested != totalRequested {
		log.Error().Msg("balance totals do not match settled orders")
	}

	printStats(stats)
}

// printStats renders the per-route latency table
func printStats(stats map[string]*routeStats) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println("\nRoute performance:")
	fmt.Printf("%-18s %8s %8s %10s %10s %10s %10s %10s %10s\n",
		"Route", "Calls", "Fails", "Min", "Max", "Mean", "Median", "P95", "P99")
	for _, k := range keys {
		rs := stats[k]
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-18s %8d %8d %10s %10s %10s %10s %10s %10s\n",
			rs.name, rs.totalCalls, rs.failures, min, max, mean, median, p95, p99)
	}
}
