package storage

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fineledger/internal/domain"
)

func TestScope_OrderedKeys(t *testing.T) {
	driver := domain.NewDriverID()
	offenseA := domain.NewOffenseID()
	offenseB := domain.NewOffenseID()

	scope := Scope{
		Drivers:  []domain.DriverID{driver},
		Offenses: []domain.OffenseID{offenseB, offenseA, offenseB},
		Payments: []domain.PaymentID{domain.NewPaymentID()},
	}
	keys := scope.orderedKeys()

	t.Run("duplicates collapse", func(t *testing.T) {
		assert.Len(t, keys, 4)
	})

	t.Run("classes come out in global order", func(t *testing.T) {
		assert.True(t, sort.StringsAreSorted(keys))
		assert.Contains(t, keys[0], "1:driver:")
		assert.Contains(t, keys[len(keys)-1], "4:payment:")
	})
}

func TestKeyedLocks_MutualExclusion(t *testing.T) {
	locks := NewKeyedLocks()
	offense := domain.NewOffenseID()
	scope := Scope{Offenses: []domain.OffenseID{offense}}

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Acquire(scope)
			counter++
			release()
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)

	// All holders released, so the map drains.
	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.entries)
}

func TestKeyedLocks_OverlappingScopes(t *testing.T) {
	locks := NewKeyedLocks()
	driver := domain.NewDriverID()
	offense := domain.NewOffenseID()

	// A payment scope and an appeal-decision scope sharing the driver and the
	// offense must serialize rather than deadlock, whatever order they start.
	payScope := Scope{
		Drivers:  []domain.DriverID{driver},
		Offenses: []domain.OffenseID{offense},
		Payments: []domain.PaymentID{domain.NewPaymentID()},
	}
	decideScope := Scope{
		Drivers:  []domain.DriverID{driver},
		Offenses: []domain.OffenseID{offense},
		Appeals:  []domain.AppealID{domain.NewAppealID()},
	}

	var wg sync.WaitGroup
	order := make([]string, 0, 2)
	var mu sync.Mutex

	wg.Add(2)
	go func() {
		defer wg.Done()
		release := locks.Acquire(payScope)
		mu.Lock()
		order = append(order, "pay")
		mu.Unlock()
		release()
	}()
	go func() {
		defer wg.Done()
		release := locks.Acquire(decideScope)
		mu.Lock()
		order = append(order, "decide")
		mu.Unlock()
		release()
	}()
	wg.Wait()

	assert.Len(t, order, 2)
}
