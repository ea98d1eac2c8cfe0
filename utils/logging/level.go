// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package logging

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level is a zapcore.Level extended with the Verbo and Trace levels.
type Level zapcore.Level

const (
	Verbo Level = iota - 9
	Debug
	Trace
	Info
	Warn
	Error
	Fatal
	Off
)

const (
	alignedStringLen = 5
	unknownStr       = "UNKNO"
)

var levels = []struct {
	level Level
	name  string
	color Color
}{
	{Off, "OFF", Reset},
	{Fatal, "FATAL", Red},
	{Error, "ERROR", Orange},
	{Warn, "WARN", Yellow},
	{Info, "INFO", Reset},
	{Trace, "TRACE", LightPurple},
	{Debug, "DEBUG", LightBlue},
	{Verbo, "VERBO", LightGreen},
}

// ToLevel parses a level name case-insensitively.
func ToLevel(l string) (Level, error) {
	name := strings.ToUpper(l)
	for _, entry := range levels {
		if entry.name == name {
			return entry.level, nil
		}
	}
	return Off, fmt.Errorf("unknown log level: %q", l)
}

func (l Level) String() string {
	for _, entry := range levels {
		if entry.level == l {
			return entry.name
		}
	}
	return unknownStr
}

// AlignedString returns the level padded or truncated to [alignedStringLen].
func (l Level) AlignedString() string {
	return fmt.Sprintf("%-*.*s", alignedStringLen, alignedStringLen, l.String())
}

func (l Level) Color() Color {
	for _, entry := range levels {
		if entry.level == l {
			return entry.color
		}
	}
	return Reset
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	var err error
	*l, err = ToLevel(str)
	return err
}

func consoleLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(Level(l).AlignedString())
}

func colorLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	lvl := Level(l)
	enc.AppendString(string(lvl.Color()) + lvl.AlignedString() + string(Reset))
}

func jsonLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(Level(l).String())
}
