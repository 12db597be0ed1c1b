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
package inbound

import "errors"

var (
	// ErrUnsupportedVersion is returned when a handshake declares a
	// version outside {0, 1}.
	ErrUnsupportedVersion = errors.New("inbound: unsupported protocol version")

	// ErrUnexpectedMessage is returned when a message arrives that is
	// not valid in the connection's current state.
	ErrUnexpectedMessage = errors.New("inbound: unexpected message for current state")

	// ErrInvalidRequest is returned for a malformed or incomplete
	// message.
	ErrInvalidRequest = errors.New("inbound: invalid request")
)
