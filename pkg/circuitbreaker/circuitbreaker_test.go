package circuitbreaker_test

import (
	"fmt"
	"testing"

	"github.com/neuraiproject/wcbridge/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker("test")
	require.Equal(t, "test", cb.Name())

	failure := func() (interface{}, error) {
		return nil, fmt.Errorf("failure")
	}

	for i := 0; i <= circuitbreaker.MaxNumOfFailingRequests; i++ {
		_, err := cb.Execute(failure)
		require.EqualError(t, err, "failure")
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) {
		return "ok", nil
	})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreakerStaysClosed(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker("")
	require.Equal(t, "circuitbreaker", cb.Name())

	for i := 0; i < 2*circuitbreaker.MaxNumOfFailingRequests; i++ {
		_, err := cb.Execute(func() (interface{}, error) {
			if i%2 == 0 {
				return nil, fmt.Errorf("failure")
			}
			return "ok", nil
		})
		if i%2 != 0 {
			require.NoError(t, err)
		}
	}
	require.Equal(t, gobreaker.StateClosed, cb.State())
}
