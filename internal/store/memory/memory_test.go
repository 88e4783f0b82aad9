package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/checkout-fulfillment/internal/catalog"
	"github.com/example/checkout-fulfillment/internal/inventory"
	"github.com/example/checkout-fulfillment/internal/order"
)

// ============================================
// Catalog Tests
// ============================================

func TestStore_Product_ReturnsSnapshot(t *testing.T) {
	s := NewStore()
	s.SeedProduct(&catalog.Product{ID: "a", Name: "Thing", Price: 1000, Stock: 3})

	p, err := s.Product(context.Background(), "a")
	require.NoError(t, err)

	// Mutating the snapshot must not leak back into the store.
	p.Stock = 999
	again, err := s.Product(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Stock)
}

func TestStore_Product_NotFound(t *testing.T) {
	s := NewStore()

	_, err := s.Product(context.Background(), "missing")

	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

// ============================================
// Ledger Tests
// ============================================

func TestStore_Decrement_Success(t *testing.T) {
	s := NewStore()
	s.SeedProduct(&catalog.Product{ID: "a", Price: 1000, Stock: 5})

	err := s.Decrement(context.Background(), "a", 3)

	require.NoError(t, err)
	assert.Equal(t, 2, s.StockOf("a"))
}

func TestStore_Decrement_Insufficient(t *testing.T) {
	s := NewStore()
	s.SeedProduct(&catalog.Product{ID: "a", Price: 1000, Stock: 2})

	err := s.Decrement(context.Background(), "a", 3)

	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 2, s.StockOf("a"))
}

func TestStore_Decrement_InvalidQuantity(t *testing.T) {
	s := NewStore()
	s.SeedProduct(&catalog.Product{ID: "a", Price: 1000, Stock: 2})

	assert.ErrorIs(t, s.Decrement(context.Background(), "a", 0), inventory.ErrInvalidQuantity)
	assert.ErrorIs(t, s.Decrement(context.Background(), "a", -1), inventory.ErrInvalidQuantity)
}

func TestStore_Increment_RestoresStock(t *testing.T) {
	s := NewStore()
	s.SeedProduct(&catalog.Product{ID: "a", Price: 1000, Stock: 2})

	require.NoError(t, s.Decrement(context.Background(), "a", 2))
	require.NoError(t, s.Increment(context.Background(), "a", 2))

	assert.Equal(t, 2, s.StockOf("a"))
}

// N+1 concurrent single-unit decrements against stock N must produce
// exactly N successes and final stock zero.
func TestStore_Decrement_ConcurrentNeverOversells(t *testing.T) {
	const stock = 50
	s := NewStore()
	s.SeedProduct(&catalog.Product{ID: "a", Price: 1000, Stock: stock})

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, insufficient := 0, 0

	for i := 0; i < stock+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Decrement(context.Background(), "a", 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case err == inventory.ErrInsufficientStock:
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, successes)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 0, s.StockOf("a"))
}

// ============================================
// Order Store Tests
// ============================================

func testOrder(ref string) *order.Order {
	return &order.Order{
		ID:               "order-" + ref,
		UserID:           "user-1",
		Items:            []order.Item{{ProductID: "a", Name: "Thing", Quantity: 1, Price: 1000}},
		ItemsPrice:       1000,
		TaxPrice:         100,
		TotalPrice:       1100,
		PaymentReference: ref,
		Paid:             true,
		PaidAt:           time.Now(),
		Status:           order.StatusProcessing,
		CreatedAt:        time.Now(),
	}
}

func TestStore_CreateIfAbsent_FirstWins(t *testing.T) {
	s := NewStore()

	created, err := s.CreateIfAbsent(context.Background(), testOrder("auth-1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateIfAbsent(context.Background(), testOrder("auth-1"))
	require.NoError(t, err)
	assert.False(t, created)

	o, err := s.FindByPaymentReference(context.Background(), "auth-1")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "order-auth-1", o.ID)
}

func TestStore_CreateIfAbsent_MissingReference(t *testing.T) {
	s := NewStore()
	o := testOrder("auth-1")
	o.PaymentReference = ""

	_, err := s.CreateIfAbsent(context.Background(), o)

	assert.Error(t, err)
}

func TestStore_FindByPaymentReference_Absent(t *testing.T) {
	s := NewStore()

	o, err := s.FindByPaymentReference(context.Background(), "nope")

	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestStore_CreateIfAbsent_ConcurrentDuplicates(t *testing.T) {
	s := NewStore()

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.CreateIfAbsent(context.Background(), testOrder("auth-race"))
			assert.NoError(t, err)
			if created {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
