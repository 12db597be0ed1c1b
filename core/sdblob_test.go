// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package core

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSDBlob(t *testing.T) {
	h1 := strings.Repeat("a", HashLength)
	h2 := strings.Repeat("b", HashLength)
	payload := []byte(fmt.Sprintf(`{
		"stream_type": "lbryfile",
		"blobs": [
			{"blob_hash": "%s", "length": 10},
			{"blob_hash": "%s", "length": 20},
			{"length": 0}
		]
	}`, h1, h2))

	sd, err := ParseSDBlob(payload)
	require.NoError(t, err)
	require.Equal(t, []Hash{MustParseHash(h1), MustParseHash(h2)}, sd.Members)
}

func TestParseSDBlobInvalidJSON(t *testing.T) {
	_, err := ParseSDBlob([]byte("not json"))
	require.Error(t, err)
}

func TestParseSDBlobInvalidMemberHash(t *testing.T) {
	_, err := ParseSDBlob([]byte(`{"blobs": [{"blob_hash": "short", "length": 1}]}`))
	require.Error(t, err)
}

func TestParseSDBlobEmpty(t *testing.T) {
	sd, err := ParseSDBlob([]byte(`{"blobs": []}`))
	require.NoError(t, err)
	require.Empty(t, sd.Members)
}
