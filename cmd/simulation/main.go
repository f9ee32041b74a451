package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/peerex/peerex-core/internal/auth"
	"github.com/peerex/peerex-core/internal/config"
	"github.com/peerex/peerex-core/internal/database"
	"github.com/peerex/peerex-core/internal/events"
	"github.com/peerex/peerex-core/internal/ledger"
	"github.com/peerex/peerex-core/internal/matching"
	"github.com/peerex/peerex-core/internal/pricing"
	"github.com/peerex/peerex-core/internal/settlement"
	"github.com/peerex/peerex-core/internal/swap"
	"github.com/peerex/peerex-core/internal/trading"
	"github.com/peerex/peerex-core/pkg/middleware"
)

const (
	minOrders     = 20
	maxOrders     = 120
	numTraders    = 6
	serverAddress = "http://localhost:8080"
	jwtSecret     = "peerex-simulation-secret"
)

var (
	assets = []string{"BTC", "ETH", "LTC"}
	sides  = []string{"buy", "sell"}
)

// simUser is a trader participating in the simulation. Each trader gets
// its own API credentials and a funded crypto balance so that sell-side
// escrow locks succeed.
type simUser struct {
	apiKey    string
	apiSecret string
	userID    string
}

var simUsers = func() []simUser {
	users := make([]simUser, numTraders)
	for i := range users {
		users[i] = simUser{
			apiKey:    fmt.Sprintf("sim-key-%d", i),
			apiSecret: fmt.Sprintf("sim-secret-%d", i),
			userID:    fmt.Sprintf("sim-user-%d", i),
		}
	}
	return users
}()

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
	name       string
	mu         sync.Mutex
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

// simulationClient handles HTTP communication with the exchange API on
// behalf of one trader.
type simulationClient struct {
	baseURL   string
	authToken string
	userID    string
	client    *http.Client
	stats     map[string]*routeStats
}

// internalToken is the service token the embedded server mints at
// startup; funding calls use it instead of a trader's token.
var internalToken string

// sharedStats is reused across all trader clients so the final report
// aggregates every call.
var sharedStats = map[string]*routeStats{
	"auth":     {name: "Authentication"},
	"fund":     {name: "Fund Balance"},
	"create":   {name: "Create Order"},
	"cancel":   {name: "Cancel Order"},
	"balances": {name: "Get Balances"},
	"trades":   {name: "Get Trades"},
}

// newSimulationClient authenticates one trader against the API.
func newSimulationClient(user simUser) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		userID:  user.userID,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats:   sharedStats,
	}

	token, err := sc.authenticate(user)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate %s: %w", user.userID, err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(user simUser) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    user.apiKey,
		"api_secret": user.apiSecret,
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

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// do sends an authenticated JSON request and decodes the success envelope
// into out (when out is non-nil).
func (sc *simulationClient) do(method, path string, payload, out interface{}) error {
	return sc.doAs(sc.authToken, method, path, payload, out)
}

func (sc *simulationClient) doAs(token, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// fundBalance credits a trader's available balance through the internal
// mutation endpoint, the same path a deposit monitor would use. User
// tokens are rejected there, so the call rides the service token minted
// at server startup.
func (sc *simulationClient) fundBalance(userID, asset, amount string) error {
	start := time.Now()
	defer func() {
		sc.stats["fund"].addDuration(time.Since(start))
	}()

	payload := map[string]interface{}{
		"user_id":         userID,
		"asset":           asset,
		"field":           "available",
		"amount":          amount,
		"entry_type":      "deposit_credit",
		"idempotency_key": "sim:fund:" + uuid.New().String(),
		"deposit_id":      uuid.New().String(),
		"note":            "simulation funding",
	}
	return sc.doAs(internalToken, "POST", "/api/v1/internal/balance-mutations", payload, nil)
}

type orderResult struct {
	OrderID       string   `json:"order_id"`
	Status        string   `json:"status"`
	RemainingFiat string   `json:"remaining_fiat"`
	TradeIDs      []string `json:"trade_ids"`
}

// createOrder submits a new order and returns the order ID plus any trade
// IDs matched on placement.
func (sc *simulationClient) createOrder(side, asset, fiatAmount, premium string) (*orderResult, error) {
	start := time.Now()
	defer func() {
		sc.stats["create"].addDuration(time.Since(start))
	}()

	payload := map[string]string{
		"side":            side,
		"asset":           asset,
		"fiat_amount":     fiatAmount,
		"price_type":      "market",
		"premium_percent": premium,
	}

	var result orderResult
	if err := sc.do("POST", "/api/v1/orders", payload, &result); err != nil {
		sc.stats["create"].addFailure()
		return nil, err
	}
	if result.OrderID == "" {
		sc.stats["create"].addFailure()
		return nil, fmt.Errorf("no order ID in response")
	}
	return &result, nil
}

// cancelOrder cancels an open order.
func (sc *simulationClient) cancelOrder(orderID string) error {
	start := time.Now()
	defer func() {
		sc.stats["cancel"].addDuration(time.Since(start))
	}()

	if err := sc.do("POST", fmt.Sprintf("/api/v1/orders/%s/cancel", orderID), nil, nil); err != nil {
		sc.stats["cancel"].addFailure()
		return err
	}
	return nil
}

type balanceResult struct {
	Asset          string          `json:"asset"`
	Available      decimal.Decimal `json:"available"`
	Locked         decimal.Decimal `json:"locked"`
	PendingDeposit decimal.Decimal `json:"pending_deposit"`
}

// getBalances retrieves the trader's balances.
func (sc *simulationClient) getBalances() ([]balanceResult, error) {
	start := time.Now()
	defer func() {
		sc.stats["balances"].addDuration(time.Since(start))
	}()

	var balances []balanceResult
	if err := sc.do("GET", "/api/v1/balances", nil, &balances); err != nil {
		sc.stats["balances"].addFailure()
		return nil, err
	}
	return balances, nil
}

// getTrades retrieves the trader's trades.
func (sc *simulationClient) getTrades() (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["trades"].addDuration(time.Since(start))
	}()

	var trades []json.RawMessage
	if err := sc.do("GET", "/api/v1/trades", nil, &trades); err != nil {
		sc.stats["trades"].addFailure()
		return 0, err
	}
	return len(trades), nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sharedStats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the exchange simulation. It starts a local API server, funds a
// set of traders, then has them place, match and cancel orders concurrently.
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	clients := make([]*simulationClient, 0, len(simUsers))
	for _, user := range simUsers {
		client, err := newSimulationClient(user)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize simulation client")
		}
		clients = append(clients, client)
	}

	// Fund every trader with crypto so the sell side can escrow.
	for _, client := range clients {
		for _, asset := range assets {
			if err := clients[0].fundBalance(client.userID, asset, "10"); err != nil {
				log.Fatal().Err(err).Str("user_id", client.userID).Msg("Failed to fund trader")
			}
		}
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Int("traders", len(clients)).Msg("Starting simulation")

	type placedOrder struct {
		client  *simulationClient
		orderID string
	}
	ordersChan := make(chan placedOrder, targetOrders)
	tradesChan := make(chan string, targetOrders*4)
	var wg sync.WaitGroup

	for i, client := range clients {
		wg.Add(1)
		go func(workerID int, sc *simulationClient) {
			defer wg.Done()
			for j := 0; j < targetOrders/len(clients); j++ {
				side := sides[rand.Intn(len(sides))]
				asset := assets[rand.Intn(len(assets))]
				fiat := fmt.Sprintf("%d", rand.Intn(900)+100)
				premium := fmt.Sprintf("%.1f", rand.Float64()*4-2)

				result, err := sc.createOrder(side, asset, fiat, premium)
				if err != nil {
					log.Error().Err(err).
						Int("worker_id", workerID).
						Str("asset", asset).
						Msg("Failed to create order")
					continue
				}

				ordersChan <- placedOrder{client: sc, orderID: result.OrderID}
				for _, tradeID := range result.TradeIDs {
					tradesChan <- tradeID
				}
				log.Info().
					Int("worker_id", workerID).
					Str("order_id", result.OrderID).
					Str("asset", asset).
					Str("side", side).
					Str("fiat_amount", fiat).
					Int("trades", len(result.TradeIDs)).
					Msg("Order created")

				time.Sleep(time.Duration(rand.Intn(300)) * time.Millisecond)
			}
		}(i, client)
	}

	wg.Wait()
	close(ordersChan)
	close(tradesChan)

	var orders []placedOrder
	for order := range ordersChan {
		orders = append(orders, order)
	}
	var tradeIDs []string
	for tradeID := range tradesChan {
		tradeIDs = append(tradeIDs, tradeID)
	}

	log.Info().
		Int("orders_created", len(orders)).
		Int("trades_matched", len(tradeIDs)).
		Msg("All orders created")

	// Cancel a random quarter of the book. Orders already filled will
	// reject the cancel, which is expected.
	cancelled, cancelRejected := 0, 0
	for _, order := range orders {
		if rand.Intn(4) != 0 {
			continue
		}
		if err := order.client.cancelOrder(order.orderID); err != nil {
			cancelRejected++
			continue
		}
		cancelled++
	}

	// Final read-side sweep.
	totalTrades := 0
	for _, client := range clients {
		count, err := client.getTrades()
		if err != nil {
			log.Error().Err(err).Str("user_id", client.userID).Msg("Failed to fetch trades")
			continue
		}
		totalTrades += count

		balances, err := client.getBalances()
		if err != nil {
			log.Error().Err(err).Str("user_id", client.userID).Msg("Failed to fetch balances")
			continue
		}
		for _, b := range balances {
			if !b.Locked.IsZero() {
				log.Info().
					Str("user_id", client.userID).
					Str("asset", b.Asset).
					Str("available", b.Available.String()).
					Str("locked", b.Locked.String()).
					Msg("Escrowed balance")
			}
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("P2P EXCHANGE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Orders placed:      %d
Trades matched:     %d
Trade legs seen:    %d
Cancelled:          %d
Cancel rejected:    %d
`, len(orders), len(tradeIDs), totalTrades, cancelled, cancelRejected)
	fmt.Println(strings.Repeat("=", 80))

	printPerformanceStats()
}

// startServer initializes and starts the exchange API server with an
// in-memory database and fixed development prices.
func startServer() error {
	db, err := database.NewDatabase("file:peerex-simulation?mode=memory&cache=shared")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	cfg := config.Default()
	cfg.Auth.JWTSecret = jwtSecret

	publisher := events.NewLogPublisher()
	priceSource := pricing.NewFixedSource(map[string]decimal.Decimal{
		"BTC": decimal.NewFromInt(85000),
		"ETH": decimal.NewFromInt(4200),
		"LTC": decimal.NewFromInt(120),
	})
	resolver := pricing.NewResolver(priceSource, decimal.RequireFromString(cfg.Trading.SpreadPercent))

	ledgerService := ledger.NewService(db, publisher, cfg.Trading.PlatformUserID)
	if err := ledgerService.EnsureBalances(cfg.Trading.PlatformUserID, cfg.Trading.Assets); err != nil {
		return err
	}

	engine := matching.NewEngine(db, matching.NewLockRegistry(), resolver,
		decimal.RequireFromString(cfg.Trading.TakerFeePercent))
	executor := settlement.NewExecutor(db, ledgerService, publisher,
		time.Duration(cfg.Trading.PaymentWindowMinutes)*time.Minute)
	tradingService := trading.NewService(db, engine, executor, resolver, publisher)
	swapService := swap.NewService(db, ledgerService, resolver)

	authService := auth.NewService(jwtSecret)
	serviceToken, err := authService.GenerateServiceToken("simulation-funder")
	if err != nil {
		return err
	}
	internalToken = serviceToken.Token
	for _, user := range simUsers {
		authService.RegisterAPICredentials(user.apiKey, user.apiSecret, user.userID)
		if err := ledgerService.EnsureBalances(user.userID, cfg.Trading.Assets); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	authHandlers := auth.NewGinHandlers(authService)
	tradingHandlers := trading.NewGinHandlers(tradingService, settlement.NewDatabase(db))
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	swapHandlers := swap.NewGinHandlers(swapService)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", authHandlers.GenerateTokenHandler())

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(jwtSecret))
		{
			protected.POST("/orders", tradingHandlers.CreateOrderHandler())
			protected.GET("/orders", tradingHandlers.GetOrdersHandler())
			protected.GET("/orders/:order_id", tradingHandlers.GetOrderHandler())
			protected.POST("/orders/:order_id/cancel", tradingHandlers.CancelOrderHandler())
			protected.GET("/balances", ledgerHandlers.GetBalancesHandler())
			protected.GET("/ledger/:asset", ledgerHandlers.GetHistoryHandler())
			protected.GET("/trades", tradingHandlers.GetTradesHandler())
			protected.POST("/swap", swapHandlers.SwapHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/balance-mutations", ledgerHandlers.MutateHandler())
		}
	}

	return router.Run(":8080")
}
