package broker

import (
	"context"
	"testing"

	"github.com/mscrnt/Robo-Trader/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockClient is a mock implementation of the Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetAccount(ctx context.Context) (Account, error) {
	args := m.Called(ctx)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Position), args.Error(1)
}

func (m *MockClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(OrderReceipt), args.Error(1)
}

func (m *MockClient) GetOrder(ctx context.Context, orderID string) (OrderReceipt, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(OrderReceipt), args.Error(1)
}

func (m *MockClient) CancelOrder(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

// MockOrderStore is a mock implementation of the OrderStore interface.
type MockOrderStore struct {
	mock.Mock
}

func (m *MockOrderStore) OpenOrders() ([]models.Order, error) {
	args := m.Called()
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *MockOrderStore) UpdateOrderStatus(orderID, status string, filledQty int, filledAvgPrice float64) error {
	args := m.Called(orderID, status, filledQty, filledAvgPrice)
	return args.Error(0)
}

func TestSyncOrders_RefreshesOpenOrders(t *testing.T) {
	// Arrange
	client := new(MockClient)
	store := new(MockOrderStore)

	store.On("OpenOrders").Return([]models.Order{
		{OrderID: "o1", Symbol: "AAPL", Status: "new"},
		{OrderID: "o2", Symbol: "MSFT", Status: "accepted"},
	}, nil)
	client.On("GetOrder", mock.Anything, "o1").Return(OrderReceipt{
		ID: "o1", Status: "filled", FilledQty: 16, FilledAvgPrice: 100.5,
	}, nil)
	client.On("GetOrder", mock.Anything, "o2").Return(OrderReceipt{}, assert.AnError)
	store.On("UpdateOrderStatus", "o1", "filled", 16, 100.5).Return(nil)

	// Act
	err := SyncOrders(context.Background(), client, store, zap.NewNop())

	// Assert: the broker lookup failure on o2 skips it, nothing more.
	assert.NoError(t, err)
	client.AssertExpectations(t)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "UpdateOrderStatus", "o2", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelOpenOrders_CancelsEachInIsolation(t *testing.T) {
	// Arrange: two open orders, one of which the broker refuses.
	client := new(MockClient)
	store := new(MockOrderStore)

	store.On("OpenOrders").Return([]models.Order{
		{OrderID: "o1", Symbol: "AAPL", Status: "new"},
		{OrderID: "o2", Symbol: "MSFT", Status: "accepted", FilledQty: 3, FilledAvgPrice: 400},
	}, nil)
	client.On("CancelOrder", mock.Anything, "o1").Return(assert.AnError)
	client.On("CancelOrder", mock.Anything, "o2").Return(nil)
	store.On("UpdateOrderStatus", "o2", "canceled", 3, 400.0).Return(nil)

	// Act
	canceled, err := CancelOpenOrders(context.Background(), client, store, zap.NewNop())

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 1, canceled)
	client.AssertExpectations(t)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "UpdateOrderStatus", "o1", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelOpenOrders_StoreFailure(t *testing.T) {
	client := new(MockClient)
	store := new(MockOrderStore)
	store.On("OpenOrders").Return([]models.Order{}, assert.AnError)

	_, err := CancelOpenOrders(context.Background(), client, store, zap.NewNop())

	assert.Error(t, err)
	client.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything)
}
