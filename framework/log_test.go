package framework

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, log.Logger.GetLevel())

	log.WithField("proxy", "0xabc").Info("DR deployed to: 0xabc")
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DR deployed to: 0xabc", line["msg"])
	require.Equal(t, "0xabc", line["proxy"])

	buf.Reset()
	text, err := NewLogger(&buf, "warn", "text")
	require.NoError(t, err)
	text.Info("hidden")
	require.Empty(t, buf.String())

	_, err = NewLogger(&buf, "loud", "text")
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewLogger(&buf, "info", "xml")
	require.ErrorIs(t, err, ErrConfig)
}
