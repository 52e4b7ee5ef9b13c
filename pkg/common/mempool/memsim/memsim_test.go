// Copyright 2025 The DevPool Authors
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

package memsim

import (
	"testing"

	"github.com/devpool-io/devpool/pkg/common/dperr"
	"github.com/stretchr/testify/require"
)

func TestDeviceCapacity(t *testing.T) {
	d := NewDevice(1024)

	p1, err := d.MemAlloc(512)
	require.NoError(t, err)
	p2, err := d.MemAlloc(512)
	require.NoError(t, err)
	require.Equal(t, uint64(1024), d.InUse())

	_, err = d.MemAlloc(1)
	require.True(t, dperr.IsOOM(err))

	require.NoError(t, d.MemFree(p1))
	require.Equal(t, uint64(512), d.InUse())
	require.NoError(t, d.MemFree(p2))
	require.Equal(t, 2, d.Allocs())
	require.Equal(t, 2, d.Frees())

	err = d.MemFree(p2)
	require.True(t, dperr.IsInvalidState(err))
}

func TestDeviceFailNext(t *testing.T) {
	d := NewDevice(0)
	d.FailNext(2)

	_, err := d.MemAlloc(16)
	require.True(t, dperr.IsOOM(err))
	_, err = d.MemAlloc(16)
	require.True(t, dperr.IsOOM(err))
	_, err = d.MemAlloc(16)
	require.NoError(t, err)
}

func TestCtxDepth(t *testing.T) {
	c := NewCtx()
	require.NoError(t, c.Activate())
	require.NoError(t, c.Activate())
	require.Equal(t, 2, c.Depth())
	require.NoError(t, c.Deactivate())
	require.NoError(t, c.Deactivate())
	require.Equal(t, 0, c.Depth())

	err := c.Deactivate()
	require.True(t, dperr.IsInvalidState(err))

	c.FailActivate = true
	require.Error(t, c.Activate())
}
