package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/openhooks/matchbook/internal/domain"
)

type fakeOrderStore struct {
	orders   []domain.Order
	lastOpts domain.ListOpts
}

func (s *fakeOrderStore) Insert(context.Context, domain.Order) error { return nil }

func (s *fakeOrderStore) UpdateStatus(context.Context, uint64, domain.OrderStatus) error {
	return nil
}

func (s *fakeOrderStore) GetByID(context.Context, uint64) (domain.Order, domain.OrderStatus, error) {
	return domain.Order{}, "", domain.ErrOrderNotFound
}

func (s *fakeOrderStore) ListByMarket(_ context.Context, _ common.Hash, opts domain.ListOpts) ([]domain.Order, error) {
	s.lastOpts = opts
	return s.orders, nil
}

func (s *fakeOrderStore) ListClosedBefore(context.Context, time.Time) ([]domain.Order, error) {
	return nil, nil
}

type fakeMatchStore struct {
	matches []domain.Match
}

func (s *fakeMatchStore) Insert(context.Context, domain.Match) error { return nil }

func (s *fakeMatchStore) Delete(context.Context, uint64) error { return nil }

func (s *fakeMatchStore) ListByMarket(context.Context, common.Hash, domain.ListOpts) ([]domain.Match, error) {
	return s.matches, nil
}

func (s *fakeMatchStore) ListBefore(context.Context, time.Time) ([]domain.Match, error) {
	return nil, nil
}

func newTestServer(orders domain.OrderStore, matches domain.MatchStore) *Server {
	return NewServer(Config{Port: 8080}, orders, matches, nil, slog.Default())
}

func TestHealthEndpoint(t *testing.T) {
	require := require.New(t)
	srv := newTestServer(nil, nil)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal("ok", body["status"])
}

func TestListOrdersEndpoint(t *testing.T) {
	require := require.New(t)
	store := &fakeOrderStore{orders: []domain.Order{{
		ID:           1,
		AmountIn:     uint256.NewInt(100),
		MinAmountOut: uint256.NewInt(95),
	}}}
	srv := newTestServer(store, nil)

	marketID := common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000001")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/markets/"+marketID.Hex()+"/orders?limit=5&offset=10", nil)
	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(http.StatusOK, rec.Code)
	require.Equal(5, store.lastOpts.Limit)
	require.Equal(10, store.lastOpts.Offset)

	var got []domain.Order
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(got, 1)
	require.Equal(uint64(1), got[0].ID)
}

func TestListOrdersRejectsBadMarketID(t *testing.T) {
	require := require.New(t)
	srv := newTestServer(&fakeOrderStore{}, nil)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/xyz/orders", nil))
	require.Equal(http.StatusBadRequest, rec.Code)
}

func TestListMatchesWithoutStore(t *testing.T) {
	require := require.New(t)
	srv := newTestServer(nil, nil)

	marketID := common.HexToHash("0x01")
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/"+marketID.Hex()+"/matches", nil))
	require.Equal(http.StatusServiceUnavailable, rec.Code)
}
