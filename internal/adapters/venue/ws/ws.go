// Package ws implementa un ports.VenueAdapter de referencia para un venue
// CLOB genérico: REST para submit/cancel/markets, un stream websocket para
// el feed de mercado y otro para el feed de usuario. Grounded en
// internal/adapters/polymarket/client.go (teacher): mismo patrón de rate
// limiting por endpoint (golang.org/x/time/rate) y reintento con backoff
// exponencial (doWithRetry/sleep), generalizado de URLs y payloads
// específicos de Polymarket a un esquema REST neutral, y extendido con
// github.com/gorilla/websocket para el transporte en tiempo real que el
// teacher no necesitaba (su scanner operaba por polling REST).
package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/alejandrodnm/traderd/internal/ports"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	restRatePerSec = 20
	restBurst      = 10
	maxRetries     = 3
	baseRetryWait  = 250 * time.Millisecond
)

// Config fija los endpoints y credenciales del venue.
type Config struct {
	RESTBaseURL string
	WSMarketURL string
	WSUserURL   string
	APIKey      string
}

// Adapter implementa ports.VenueAdapter contra un venue CLOB real.
type Adapter struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	healthy bool

	marketEvents chan ports.MarketEvent
	userEvents   chan ports.UserEvent
}

// New construye un Adapter desconectado; llamar Run para abrir los streams
// websocket antes de usar MarketEvents/UserEvents.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:          cfg,
		http:         &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(restRatePerSec, restBurst),
		healthy:      true,
		marketEvents: make(chan ports.MarketEvent, 1024),
		userEvents:   make(chan ports.UserEvent, 1024),
	}
}

// Run mantiene abiertas las conexiones websocket de mercado y de usuario
// hasta que ctx se cancele, reconectando con backoff si el venue las
// cierra. Debe correr en su propia goroutine.
func (a *Adapter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.runStream(ctx, a.cfg.WSMarketURL, a.handleMarketFrame)
	}()
	go func() {
		defer wg.Done()
		a.runStream(ctx, a.cfg.WSUserURL, a.handleUserFrame)
	}()
	wg.Wait()
}

func (a *Adapter) runStream(ctx context.Context, url string, handle func([]byte)) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			a.setHealthy(false)
			slog.Warn("ws: dial failed", "url", url, "err", err)
			a.sleep(ctx, attempt)
			attempt++
			continue
		}
		attempt = 0
		a.setHealthy(true)
		a.readLoop(ctx, conn, handle)
		conn.Close()
		a.setHealthy(false)
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, handle func([]byte)) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				slog.Warn("ws: read failed", "err", err)
			}
			return
		}
		handle(msg)
	}
}

// wireBookUpdate es la forma neutral de un frame de actualización de libro
// que este adapter espera del venue.
type wireBookUpdate struct {
	MarketID string          `json:"market_id"`
	Side     string          `json:"side"`
	Bids     [][2]string     `json:"bids"`
	Asks     [][2]string     `json:"asks"`
}

func (a *Adapter) handleMarketFrame(raw []byte) {
	var upd wireBookUpdate
	if err := json.Unmarshal(raw, &upd); err != nil {
		slog.Warn("ws: malformed market frame", "err", err)
		return
	}
	book := domain.OrderBook{TokenID: upd.MarketID}
	for _, lvl := range upd.Bids {
		book.Bids = append(book.Bids, domain.BookEntry{Price: domain.ParsePrice(lvl[0]), Size: domain.ParsePrice(lvl[1])})
	}
	for _, lvl := range upd.Asks {
		book.Asks = append(book.Asks, domain.BookEntry{Price: domain.ParsePrice(lvl[0]), Size: domain.ParsePrice(lvl[1])})
	}
	a.marketEvents <- ports.MarketEvent{
		Kind:     ports.MarketEventBookUpdate,
		MarketID: domain.MarketID(upd.MarketID),
		Side:     domain.Side(upd.Side),
		Book:     book,
	}
}

// wireUserEvent es la forma neutral de un frame del feed privado de usuario.
type wireUserEvent struct {
	Kind          string  `json:"kind"` // ack | fill | cancel | reject
	ClientOrderID string  `json:"client_order_id"`
	VenueOrderID  string  `json:"venue_order_id"`
	FillID        string  `json:"fill_id"`
	MarketID      string  `json:"market_id"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Qty           float64 `json:"qty"`
	Fee           float64 `json:"fee"`
	Maker         bool    `json:"maker"`
	Reason        string  `json:"reason"`
}

func (a *Adapter) handleUserFrame(raw []byte) {
	var ev wireUserEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		slog.Warn("ws: malformed user frame", "err", err)
		return
	}

	out := ports.UserEvent{
		ClientOrderID: ev.ClientOrderID,
		VenueOrderID:  ev.VenueOrderID,
		Reason:        ev.Reason,
	}
	switch ev.Kind {
	case "ack":
		out.Kind = ports.UserEventAck
	case "fill":
		out.Kind = ports.UserEventFill
		liquidity := domain.LiquidityTaker
		if ev.Maker {
			liquidity = domain.LiquidityMaker
		}
		out.Fill = domain.Fill{
			FillID:        ev.FillID,
			ClientOrderID: ev.ClientOrderID,
			VenueOrderID:  ev.VenueOrderID,
			MarketID:      domain.MarketID(ev.MarketID),
			Side:          domain.Side(ev.Side),
			Price:         ev.Price,
			Qty:           ev.Qty,
			Fee:           ev.Fee,
			Liquidity:     liquidity,
			Timestamp:     time.Now().UTC(),
		}
	case "cancel":
		out.Kind = ports.UserEventCancel
	case "reject":
		out.Kind = ports.UserEventReject
	default:
		slog.Warn("ws: unknown user event kind", "kind", ev.Kind)
		return
	}
	a.userEvents <- out
}

func (a *Adapter) MarketEvents(ctx context.Context) (<-chan ports.MarketEvent, error) {
	return a.marketEvents, nil
}

func (a *Adapter) UserEvents(ctx context.Context) (<-chan ports.UserEvent, error) {
	return a.userEvents, nil
}

type submitRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	MarketID      string  `json:"market_id"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Qty           float64 `json:"qty"`
}

// Submit envía una orden límite vía REST. Los eventos de ack/fill llegan
// por el stream de usuario, no en la respuesta HTTP — este método solo
// confirma que el venue aceptó la solicitud para procesamiento.
func (a *Adapter) Submit(ctx context.Context, order domain.Order) error {
	body := submitRequest{
		ClientOrderID: order.ClientOrderID,
		MarketID:      string(order.MarketID),
		Side:          string(order.Side),
		Price:         order.Price,
		Qty:           order.Qty,
	}
	var out struct {
		Error string `json:"error"`
	}
	if err := a.doWithRetry(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return err
	}
	if out.Error != "" {
		return &domain.PermanentVenueError{Op: "submit", Reason: out.Error}
	}
	return nil
}

// Cancel cancela una orden por ClientOrderID.
func (a *Adapter) Cancel(ctx context.Context, clientOrderID string) error {
	return a.doWithRetry(ctx, http.MethodDelete, "/orders/"+clientOrderID, nil, nil)
}

// CancelAll cancela todas las órdenes abiertas en un mercado.
func (a *Adapter) CancelAll(ctx context.Context, marketID domain.MarketID) error {
	return a.doWithRetry(ctx, http.MethodDelete, "/markets/"+string(marketID)+"/orders", nil, nil)
}

// Markets devuelve el universo de mercados activos.
func (a *Adapter) Markets(ctx context.Context) ([]domain.Market, error) {
	var out []domain.Market
	if err := a.doWithRetry(ctx, http.MethodGet, "/markets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) Healthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthy
}

func (a *Adapter) setHealthy(h bool) {
	a.mu.Lock()
	a.healthy = h
	a.mu.Unlock()
}

// doWithRetry replica el patrón de reintento de client.go (teacher):
// backoff exponencial con jitter, clasificación retryable por status code.
func (a *Adapter) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	url := a.cfg.RESTBaseURL + path

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ws: rate limiter: %w", err)
		}

		var reqBody io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("ws: marshal request: %w", err)
			}
			reqBody = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if a.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
		}

		resp, err := a.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return &domain.TransientVenueError{Op: method + " " + path, Err: err}
			}
			a.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return &domain.TransientVenueError{Op: method + " " + path, Err: fmt.Errorf("status %d", resp.StatusCode)}
			}
			a.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return &domain.PermanentVenueError{Op: method + " " + path, Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, respBody)}
		}

		defer resp.Body.Close()
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("ws: decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("ws: exhausted %d retries for %s %s", maxRetries, method, path)
}

// sleep espera con backoff exponencial y jitter real, respetando el
// contexto — la misma mejora sobre client.go's sleep (teacher) que
// internal/execution/retry.go aplica: el teacher documentaba jitter pero
// math.Pow sin aleatoriedad no lo produce.
func (a *Adapter) sleep(ctx context.Context, attempt int) {
	base := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	jitter := time.Duration(rand.Int63n(int64(baseRetryWait) + 1))
	wait := base + jitter

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
