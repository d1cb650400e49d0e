// SPDX-FileCopyrightText: 2026 The ax Authors
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns the CLI logger. Log lines go to stderr so they never mix
// with command output on stdout; verbose switches the level to debug.
func NewLogger(verbose bool) *zap.SugaredLogger {
	return NewLoggerTo(os.Stderr, verbose)
}

// NewLoggerTo builds the console logger on an arbitrary writer.
func NewLoggerTo(w io.Writer, verbose bool) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.TimeKey = ""
	if !verbose {
		encoderCfg.CallerKey = ""
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(w), level)
	opts := []zap.Option{}
	if verbose {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...).Sugar().Named("ax")
}

// MaskSecret keeps just enough of a credential to tell two values apart in
// debug output.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}
