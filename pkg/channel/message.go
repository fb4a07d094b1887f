// Copyright 2025 UMH Systems GmbH
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

package channel

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/splashdigilab/willMusic/pkg/models"
)

// MessageType tags the wire form of a message.
type MessageType string

const (
	// TypeBorrowRequest: Display -> Live, "I need a random note for idle rotation".
	TypeBorrowRequest MessageType = "BORROW_REQUEST"
	// TypeBorrowDeparting: Live -> Display, "here is the note I reserved; use it".
	TypeBorrowDeparting MessageType = "BORROW_DEPARTING"
	// TypeTransitionStart: Display -> Live, "I am entering this note now; run
	// your matching visual branch in parallel".
	TypeTransitionStart MessageType = "TRANSITION_START"
	// TypeDisplayExitDone: Display -> Live, "done showing/discarding this
	// note; animate it back onto the wall".
	TypeDisplayExitDone MessageType = "DISPLAY_EXIT_DONE"
)

// Source names where the next displayed note comes from.
type Source string

const (
	SourcePending Source = "pending"
	SourceHistory Source = "history"
)

// ErrUnknownMessageType is returned by Decode for unrecognized type tags.
// Receivers drop such messages instead of failing the dispatch loop.
var ErrUnknownMessageType = errors.New("unknown message type")

// Message is the tagged union of everything the two screens exchange. Every
// variant is self-sufficient: it carries the data its handler needs, so
// arrival order never matters.
type Message interface {
	MessageType() MessageType
}

// BorrowRequest asks Live for a random visible note.
type BorrowRequest struct{}

func (BorrowRequest) MessageType() MessageType { return TypeBorrowRequest }

// BorrowDeparting carries the reserved note back to Display.
type BorrowDeparting struct {
	Note models.WireNote `json:"note"`
}

func (BorrowDeparting) MessageType() MessageType { return TypeBorrowDeparting }

// TransitionStart announces the note Display is entering next.
// IsExitingPending means the note currently leaving Display is a fresh
// submission, so Live must evict its oldest occupant and hold a slot for
// the note in ExitingPendingNote.
type TransitionStart struct {
	NoteID             string           `json:"noteId"`
	NextSource         Source           `json:"nextSource"`
	IsExitingPending   bool             `json:"isExitingPending"`
	ExitingPendingNote *models.WireNote `json:"exitingPendingNote,omitempty"`
}

func (TransitionStart) MessageType() MessageType { return TypeTransitionStart }

// DisplayExitDone releases a borrowed note back to the wall. It is also the
// abort path for a prefetched note that was preempted before being shown.
type DisplayExitDone struct {
	NoteID string `json:"noteId"`
}

func (DisplayExitDone) MessageType() MessageType { return TypeDisplayExitDone }

// envelope is the single wire frame: a type tag plus the variant payload.
type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode frames a message for the wire.
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msg.MessageType(), err)
	}

	return json.Marshal(envelope{Type: msg.MessageType(), Payload: payload})
}

// Decode parses a wire frame back into its variant. This is the single
// dispatch point for the union; adding a message type without extending the
// switch is caught by tests, not by structural field sniffing at call sites.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	switch env.Type {
	case TypeBorrowRequest:
		return BorrowRequest{}, nil
	case TypeBorrowDeparting:
		var m BorrowDeparting
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", env.Type, err)
		}

		return m, nil
	case TypeTransitionStart:
		var m TransitionStart
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", env.Type, err)
		}

		return m, nil
	case TypeDisplayExitDone:
		var m DisplayExitDone
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", env.Type, err)
		}

		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}
