package p2p

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(BlockWire{})
	gob.Register(TxWire{})
}

type BlockWire struct {
	Block []byte // gob-encoded chain.Block
}

type TxWire struct {
	Tx []byte // signed transaction JSON
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
