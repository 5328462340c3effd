package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

// panicking runs handlePanic the way main defers it.
func panicking(v any) {
	defer handlePanic()
	panic(v)
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	t.Run("WritesPanicLog", func(t *testing.T) {
		var (
			path    string
			content string
			code    = -1
		)
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			path, content = name, string(data)
			return nil
		}
		osExit = func(c int) { code = c }

		panicking("boom")

		assert.Equal(t, panicLogFile, path)
		assert.Contains(t, content, "panic: boom")
		assert.Contains(t, content, "goroutine")
		assert.Equal(t, 2, code)
	})

	t.Run("LogWriteFails", func(t *testing.T) {
		code := -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
		osExit = func(c int) { code = c }

		panicking(errors.New("nil map write"))

		assert.Equal(t, 2, code)
	})

	t.Run("NoPanic", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }

		func() {
			defer handlePanic()
		}()

		assert.False(t, called)
	})
}
