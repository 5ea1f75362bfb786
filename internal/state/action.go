package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ActionType string

const (
	SetSelectionsType      ActionType = "setSelections"
	EditType               ActionType = "edit"
	UploadFileContentsType ActionType = "uploadFileContents"
	CreateSnippetType      ActionType = "createSnippet"
)

var ErrUnknownAction = errors.New("state: unknown action type")

// Action is a request to change the store.
type Action interface {
	Type() ActionType
}

// SetSelections replaces the store's selection set.
type SetSelections struct {
	Selections []Selection `json:"selections"`
}

// Edit replaces Range in Path with Text.
type Edit struct {
	Path       string     `json:"path"`
	Range      Range      `json:"range"`
	Text       string     `json:"text"`
	RelativeTo Relativity `json:"relativeTo"`
}

// UploadFileContents gives the store a baseline for Path.
type UploadFileContents struct {
	Path     string `json:"path"`
	Contents string `json:"contents"`
}

// CreateSnippet creates one chunk per request and inserts a snippet holding
// their first versions at Index.
type CreateSnippet struct {
	Index  int            `json:"index"`
	Chunks []ChunkRequest `json:"chunks"`
}

func (SetSelections) Type() ActionType      { return SetSelectionsType }
func (Edit) Type() ActionType               { return EditType }
func (UploadFileContents) Type() ActionType { return UploadFileContentsType }
func (CreateSnippet) Type() ActionType      { return CreateSnippetType }

type envelope struct {
	Type    ActionType      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeAction wraps an action in a {"type", "payload"} envelope.
func EncodeAction(a Action) ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", a.Type(), err)
	}
	return json.Marshal(envelope{Type: a.Type(), Payload: payload})
}

// DecodeAction reverses EncodeAction.
func DecodeAction(data []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode action envelope: %w", err)
	}

	var a Action
	switch env.Type {
	case SetSelectionsType:
		var v SetSelections
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case EditType:
		var v Edit
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case UploadFileContentsType:
		var v UploadFileContents
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case CreateSnippetType:
		var v CreateSnippet
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Type)
	}
	return a, nil
}
