package opener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOpenIgnoresErrors(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	o := NewOpener(zap.New(core))

	var opened []string
	o.open = func(url string) error {
		opened = append(opened, url)

		return errors.New("no display")
	}

	assert.NotPanics(t, func() {
		o.Open(context.Background(), "https://label.example.test")
	})
	assert.Equal(t, []string{"https://label.example.test"}, opened)
	assert.Equal(t, 1, logs.FilterMessage("Failed to open browser, open the link manually").Len())
}
