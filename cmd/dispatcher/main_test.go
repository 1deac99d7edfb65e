package main

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitForStop(t *testing.T) {
	t.Run("server failure is returned", func(t *testing.T) {
		serverErr := make(chan error, 1)
		serverErr <- errors.New("listen tcp :8080: bind: address already in use")

		err := waitForStop(make(chan os.Signal), serverErr)
		assert.EqualError(t, err, "listen tcp :8080: bind: address already in use")
	})

	t.Run("signal stops cleanly", func(t *testing.T) {
		quit := make(chan os.Signal, 1)
		quit <- syscall.SIGTERM

		assert.NoError(t, waitForStop(quit, make(chan error)))
	})

	t.Run("blocks until either fires", func(t *testing.T) {
		quit := make(chan os.Signal, 1)
		done := make(chan error, 1)
		go func() { done <- waitForStop(quit, make(chan error)) }()

		select {
		case <-done:
			t.Fatal("returned before a signal or server error")
		case <-time.After(20 * time.Millisecond):
		}
		quit <- syscall.SIGINT
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("did not return after signal")
		}
	})
}
