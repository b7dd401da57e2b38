// Package wire frames an encoded value and its value-level metadata into the
// textual form persisted in the store's value column. The envelope is JSON
// with a base64 payload, so any codec output (including binary codecs) stays
// valid text and stable across restarts and readers.
package wire

import (
	"encoding/json"
	"errors"
)

var ErrCorrupt = errors.New("duraref: corrupt record")

// envelope: {"v": <base64 payload>, "m": {metadata}}
type envelope struct {
	Payload []byte            `json:"v"`
	Meta    map[string]string `json:"m,omitempty"`
}

func Encode(payload []byte, meta map[string]string) (string, error) {
	if payload == nil {
		payload = []byte{}
	}
	b, err := json.Marshal(envelope{Payload: payload, Meta: meta})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func Decode(s string) (payload []byte, meta map[string]string, err error) {
	var e envelope
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, nil, ErrCorrupt
	}
	if e.Payload == nil {
		return nil, nil, ErrCorrupt
	}
	return e.Payload, e.Meta, nil
}
