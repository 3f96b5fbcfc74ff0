// Copyright 2026 Hypergig, Inc.
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

package attribute

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValues(t *testing.T) {
	t.Parallel()

	canary := NewKey[bool]()
	rack := NewKey[string]()
	unset := NewKey[int]()

	values := NewValues(canary.Value(true), rack.Value("r17"))

	gotCanary, ok := GetValue(values, canary)
	assert.True(t, ok)
	assert.True(t, gotCanary)

	gotRack, ok := GetValue(values, rack)
	assert.True(t, ok)
	assert.Equal(t, "r17", gotRack)

	gotUnset, ok := GetValue(values, unset)
	assert.False(t, ok)
	assert.Zero(t, gotUnset)
}

func TestKeysAreDistinct(t *testing.T) {
	t.Parallel()

	key1 := NewKey[string]()
	key2 := NewKey[string]()

	values := NewValues(key1.Value("one"))

	got, ok := GetValue(values, key1)
	assert.True(t, ok)
	assert.Equal(t, "one", got)

	_, ok = GetValue(values, key2)
	assert.False(t, ok)
}

func TestValueOverwrite(t *testing.T) {
	t.Parallel()

	key := NewKey[int]()
	values := NewValues(key.Value(1), key.Value(2))

	got, ok := GetValue(values, key)
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}
