// SPDX-License-Identifier: GPL-3.0-or-later
package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestGetLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"trace", logrus.TraceLevel},
		{"", logrus.InfoLevel},
		{"verbose", logrus.InfoLevel},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.expected, getLevel(tc.in))
		})
	}
}

func TestLoggerPrefix(t *testing.T) {
	InitLogging("info")
	buf := &bytes.Buffer{}
	SetOutput(buf)

	Logger(LOG_IMAP).Info("hello")

	assert.Contains(t, buf.String(), "IM:\t")
	assert.Contains(t, buf.String(), "hello")
}

func TestSetLogLevel(t *testing.T) {
	InitLogging("info")
	SetLogLevel("error")

	for _, prefix := range prefixes {
		assert.Equal(t, logrus.ErrorLevel, Logger(prefix).Level)
	}
}

func TestUnknownLogger(t *testing.T) {
	assert.Panics(t, func() {
		Logger("XX")
	})
}
