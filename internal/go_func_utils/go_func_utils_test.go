package go_func_utils

import (
	"bytes"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeGoDone_ClosesWhenFinished(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	ran := false
	done := SafeGoDone(logger, func() { ran = true })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for goroutine")
	}
	assert.True(t, ran)
	assert.Empty(t, buf.String())
}
