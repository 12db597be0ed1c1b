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
package outbound

import "errors"

// ErrUnexpectedMessage is returned when the downstream host replies
// with a message shape that doesn't match what the current step of
// the protocol expects.
var ErrUnexpectedMessage = errors.New("outbound: unexpected message from host")

// ErrShortPayload is returned when fewer bytes than declared could be
// streamed from the local blob file.
var ErrShortPayload = errors.New("outbound: local file shorter than declared size")
