// Copyright 2024 The DevPool Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSetupFileSink(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "devpool.log")
	require.NoError(t, Setup(&Config{
		Level:    "debug",
		Format:   "json",
		Filename: filename,
	}))

	Info("hello", zap.Int("n", 1))
	Debug("dbg")
	require.NoError(t, GetGlobalLogger().Sync())

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	require.Contains(t, string(content), "hello")
	require.Contains(t, string(content), "dbg")
}

func TestSetupBadLevel(t *testing.T) {
	require.Error(t, Setup(&Config{Level: "chatty"}))
}

func TestGlobalLoggerNeverNil(t *testing.T) {
	require.NotNil(t, GetGlobalLogger())
}
