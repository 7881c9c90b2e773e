package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger_levels(t *testing.T) {
	testCases := []struct {
		Name          string
		Format        string
		Debug         bool
		Trace         bool
		ExpectedDebug bool
		ExpectedTrace bool
	}{
		{Name: "json_info", Format: "json"},
		{Name: "json_debug", Format: "json", Debug: true, ExpectedDebug: true},
		{Name: "json_trace", Format: "json", Trace: true, ExpectedDebug: true, ExpectedTrace: true},
		{Name: "text_debug", Format: "text", Debug: true, ExpectedDebug: true},
		{Name: "text_trace", Format: "text", Debug: true, Trace: true, ExpectedDebug: true, ExpectedTrace: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			out := &bytes.Buffer{}
			l := newLoggerWithOut(out, tc.Format, tc.Debug, tc.Trace)

			l.Info("info message", nil)
			l.Debug("debug message", nil)
			l.Trace("trace message", nil)

			assert.Contains(t, out.String(), "info message")
			assert.Equal(t, tc.ExpectedDebug, bytes.Contains(out.Bytes(), []byte("debug message")))
			assert.Equal(t, tc.ExpectedTrace, bytes.Contains(out.Bytes(), []byte("trace message")))
		})
	}
}
